package floor

import "math"

// DefaultVisibilityThreshold is the minimum keypoint visibility for a
// keypoint to participate in angle computation.
const DefaultVisibilityThreshold = 0.3

// JointTriple names the three keypoint indices (a, b, c) whose planar
// angle at b is tracked for an exercise or form check.
type JointTriple [3]int

// Angle computes the planar angle in degrees [0, 180] at point b formed
// by the segments b→a and b→c. Degenerate triples (coincident points)
// return 0.
func Angle(ax, ay, bx, by, cx, cy float64) float64 {
	vax, vay := ax-bx, ay-by
	vcx, vcy := cx-bx, cy-by
	magA := math.Hypot(vax, vay)
	magC := math.Hypot(vcx, vcy)
	if magA < 1e-9 || magC < 1e-9 {
		return 0
	}
	cos := (vax*vcx + vay*vcy) / (magA * magC)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos) * 180 / math.Pi
}

// JointAngle computes the angle at triple[1] for the given keypoints.
// Returns (angle, true) only when all three keypoints exist and meet the
// visibility threshold; otherwise (0, false) and the frame is skipped
// for this joint.
func JointAngle(kps []Keypoint, triple JointTriple, visThreshold float32) (float64, bool) {
	a, b, c := triple[0], triple[1], triple[2]
	max := a
	if b > max {
		max = b
	}
	if c > max {
		max = c
	}
	if max >= len(kps) {
		return 0, false
	}
	ka, kb, kc := kps[a], kps[b], kps[c]
	if ka.Visibility < visThreshold || kb.Visibility < visThreshold || kc.Visibility < visThreshold {
		return 0, false
	}
	return Angle(
		float64(ka.X), float64(ka.Y),
		float64(kb.X), float64(kb.Y),
		float64(kc.X), float64(kc.Y),
	), true
}
