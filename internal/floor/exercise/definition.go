// Package exercise turns a track's joint-angle signal into exercise
// classification, rep counts, and form alerts: median smoothing, a
// hysteresis rep-counting state machine, a variance-based heuristic
// classifier, and debounced form checks with emission cooldowns.
package exercise

import (
	"fmt"
	"time"

	"github.com/banshee-data/floorsight/internal/floor"
)

// Engine defaults.
const (
	// DefaultSmoothingWindow is the per-joint median window.
	DefaultSmoothingWindow = 5
	// DefaultClassifyWindow is the rolling angle-history length the
	// classifier inspects.
	DefaultClassifyWindow = 30
	// DefaultVarianceFloor is the minimum per-joint angle standard
	// deviation (degrees) for the classifier to call any exercise. The
	// source heuristic is loose here; it is exposed as a tunable.
	DefaultVarianceFloor = 5.0
	// DefaultLowerBodyRange disambiguates arm exercises: when the knee
	// angle range over the classify window exceeds this many degrees,
	// an elbow-signature match is rejected in favour of a lower-body one.
	DefaultLowerBodyRange = 30.0
	// DefaultFormDebounceFrames is how many consecutive valid
	// out-of-range frames open a violation episode.
	DefaultFormDebounceFrames = 3
	// DefaultAlertCooldown is the minimum time between emissions of the
	// same (entity, alert_key), measured from the last emission.
	DefaultAlertCooldown = 10 * time.Second
	// DefaultSessionTimeout is the observation gap that closes a set and
	// resets counters. Identity linkage survives the reset.
	DefaultSessionTimeout = 60 * time.Second
)

// FormCheck is one configured (joint, [min,max]) range check.
type FormCheck struct {
	Key   string            `json:"key"`
	Joint floor.JointTriple `json:"joint"`
	Min   float64           `json:"min_angle"`
	Max   float64           `json:"max_angle"`
}

// Definition describes one recognisable exercise: the joint whose angle
// drives rep counting, the hysteresis thresholds, the joints whose
// variance signs the exercise for the classifier, and form checks.
type Definition struct {
	Label string `json:"label"`

	// Joint is the primary joint triple for rep counting.
	Joint floor.JointTriple `json:"joint"`

	// UpThreshold must exceed DownThreshold; the gap is the hysteresis
	// band. Whether a rep starts high (curl: arm extended) or low is
	// inferred from the first confirmed zone.
	UpThreshold   float64 `json:"up_threshold"`
	DownThreshold float64 `json:"down_threshold"`

	// SignatureJoints are the triples the classifier matches variance
	// against. Empty means the primary joint alone.
	SignatureJoints []floor.JointTriple `json:"signature_joints,omitempty"`

	// LowerBody marks exercises driven by hips/knees, used for
	// arm-vs-leg disambiguation.
	LowerBody bool `json:"lower_body,omitempty"`

	FormChecks []FormCheck `json:"form_checks,omitempty"`
}

// Signature returns the classifier joints: SignatureJoints when set,
// otherwise the primary joint.
func (d *Definition) Signature() []floor.JointTriple {
	if len(d.SignatureJoints) > 0 {
		return d.SignatureJoints
	}
	return []floor.JointTriple{d.Joint}
}

// Validate checks a definition for internal consistency. A malformed
// definition is a startup-fatal configuration error: the engine never
// runs with a partially valid exercise set.
func (d *Definition) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("exercise definition missing label")
	}
	if err := validTriple(d.Joint); err != nil {
		return fmt.Errorf("exercise %q: primary joint: %w", d.Label, err)
	}
	if d.UpThreshold <= d.DownThreshold {
		return fmt.Errorf("exercise %q: up_threshold %.1f must exceed down_threshold %.1f",
			d.Label, d.UpThreshold, d.DownThreshold)
	}
	if d.UpThreshold > 180 || d.DownThreshold < 0 {
		return fmt.Errorf("exercise %q: thresholds must lie in [0,180]", d.Label)
	}
	for _, tr := range d.SignatureJoints {
		if err := validTriple(tr); err != nil {
			return fmt.Errorf("exercise %q: signature joint: %w", d.Label, err)
		}
	}
	seen := make(map[string]bool, len(d.FormChecks))
	for _, fc := range d.FormChecks {
		if fc.Key == "" {
			return fmt.Errorf("exercise %q: form check missing key", d.Label)
		}
		if seen[fc.Key] {
			return fmt.Errorf("exercise %q: duplicate form check key %q", d.Label, fc.Key)
		}
		seen[fc.Key] = true
		if err := validTriple(fc.Joint); err != nil {
			return fmt.Errorf("exercise %q: form check %q: %w", d.Label, fc.Key, err)
		}
		if fc.Min >= fc.Max {
			return fmt.Errorf("exercise %q: form check %q: min %.1f must be below max %.1f",
				d.Label, fc.Key, fc.Min, fc.Max)
		}
	}
	return nil
}

func validTriple(tr floor.JointTriple) error {
	for _, i := range tr {
		if i < 0 || i >= floor.NumKeypoints {
			return fmt.Errorf("keypoint index %d out of range [0,%d)", i, floor.NumKeypoints)
		}
	}
	if tr[0] == tr[1] || tr[1] == tr[2] || tr[0] == tr[2] {
		return fmt.Errorf("joint triple %v repeats a keypoint", tr)
	}
	return nil
}

// ValidateAll validates a full exercise set and rejects duplicate labels.
func ValidateAll(defs []Definition) error {
	seen := make(map[string]bool, len(defs))
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return err
		}
		if seen[defs[i].Label] {
			return fmt.Errorf("duplicate exercise label %q", defs[i].Label)
		}
		seen[defs[i].Label] = true
	}
	return nil
}

// BuiltinDefinitions returns the stock gym exercise set used when no
// configuration file overrides it.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			Label:         "bicep_curl",
			Joint:         floor.JointTriple{floor.KPLeftShoulder, floor.KPLeftElbow, floor.KPLeftWrist},
			UpThreshold:   160,
			DownThreshold: 50,
			SignatureJoints: []floor.JointTriple{
				{floor.KPLeftShoulder, floor.KPLeftElbow, floor.KPLeftWrist},
				{floor.KPRightShoulder, floor.KPRightElbow, floor.KPRightWrist},
			},
			FormChecks: []FormCheck{
				{
					Key:   "elbow_drift",
					Joint: floor.JointTriple{floor.KPLeftElbow, floor.KPLeftShoulder, floor.KPLeftHip},
					Min:   0,
					Max:   30,
				},
			},
		},
		{
			Label:         "squat",
			Joint:         floor.JointTriple{floor.KPLeftHip, floor.KPLeftKnee, floor.KPLeftAnkle},
			UpThreshold:   160,
			DownThreshold: 100,
			LowerBody:     true,
			SignatureJoints: []floor.JointTriple{
				{floor.KPLeftHip, floor.KPLeftKnee, floor.KPLeftAnkle},
				{floor.KPRightHip, floor.KPRightKnee, floor.KPRightAnkle},
			},
			FormChecks: []FormCheck{
				{
					Key:   "back_angle",
					Joint: floor.JointTriple{floor.KPLeftShoulder, floor.KPLeftHip, floor.KPLeftKnee},
					Min:   45,
					Max:   180,
				},
			},
		},
		{
			Label:         "shoulder_press",
			Joint:         floor.JointTriple{floor.KPLeftElbow, floor.KPLeftShoulder, floor.KPLeftHip},
			UpThreshold:   150,
			DownThreshold: 70,
			SignatureJoints: []floor.JointTriple{
				{floor.KPLeftElbow, floor.KPLeftShoulder, floor.KPLeftHip},
				{floor.KPRightElbow, floor.KPRightShoulder, floor.KPRightHip},
			},
		},
	}
}
