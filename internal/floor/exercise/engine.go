package exercise

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/floorsight/internal/floor"
)

// Config holds exercise engine tuning.
type Config struct {
	SmoothingWindow     int
	ClassifyWindow      int
	VarianceFloor       float64
	LowerBodyRange      float64
	FormDebounce        int
	AlertCooldown       time.Duration
	SessionTimeout      time.Duration
	VisibilityThreshold float32
}

// DefaultEngineConfig returns the default exercise engine configuration.
func DefaultEngineConfig() Config {
	return Config{
		SmoothingWindow:     DefaultSmoothingWindow,
		ClassifyWindow:      DefaultClassifyWindow,
		VarianceFloor:       DefaultVarianceFloor,
		LowerBodyRange:      DefaultLowerBodyRange,
		FormDebounce:        DefaultFormDebounceFrames,
		AlertCooldown:       DefaultAlertCooldown,
		SessionTimeout:      DefaultSessionTimeout,
		VisibilityThreshold: floor.DefaultVisibilityThreshold,
	}
}

// RepEvent is emitted once per completed rep.
type RepEvent struct {
	Track       floor.TrackKey
	SetID       string
	Label       string
	RepCount    int
	TimestampNS int64 // camera clock
}

// FormEvent is emitted once per dispatched form alert.
type FormEvent struct {
	Track       floor.TrackKey
	SetID       string
	Alert       Alert
	TimestampNS int64 // camera clock
}

// StateSnapshot is a read-only view of one track's exercise state.
type StateSnapshot struct {
	Track      floor.TrackKey `json:"track"`
	SetID      string         `json:"set_id"`
	Label      string         `json:"label"`
	Confidence float64        `json:"confidence"`
	Phase      Phase          `json:"phase"`
	RepCount   int            `json:"rep_count"`
}

// trackState is the per-track analysis state. It is created with the
// track's first processed observation and destroyed when the track
// closes; a session-gap timeout resets it in place.
type trackState struct {
	setID     string
	lastObsNS int64 // camera clock of last processed observation

	smoothers map[floor.JointTriple]*Smoother
	histories map[floor.JointTriple][]float64

	label      string
	confidence float64
	counter    *RepCounter
	form       *FormAnalyzer
}

// Engine runs per-track exercise analysis. State is partitioned
// strictly per track: one camera's corrupted stream can never disturb
// another track's counts.
type Engine struct {
	config     Config
	defs       []Definition
	byLabel    map[string]*Definition
	classifier *Classifier
	triples    []floor.JointTriple

	mu     sync.Mutex
	tracks map[floor.TrackKey]*trackState

	onRep  []func(RepEvent)
	onForm []func(FormEvent)
}

// NewEngine creates an engine over validated definitions.
func NewEngine(config Config, defs []Definition) *Engine {
	if config.SmoothingWindow <= 0 {
		config.SmoothingWindow = DefaultSmoothingWindow
	}
	if config.ClassifyWindow <= 0 {
		config.ClassifyWindow = DefaultClassifyWindow
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = DefaultSessionTimeout
	}
	if config.VisibilityThreshold <= 0 {
		config.VisibilityThreshold = floor.DefaultVisibilityThreshold
	}

	e := &Engine{
		config:     config,
		defs:       defs,
		byLabel:    make(map[string]*Definition, len(defs)),
		classifier: NewClassifier(defs, config.VarianceFloor, config.LowerBodyRange),
		tracks:     make(map[floor.TrackKey]*trackState),
	}
	for i := range defs {
		e.byLabel[defs[i].Label] = &defs[i]
	}

	// Every joint any definition touches gets a smoother, so switching
	// exercise mid-track never starts from a cold window.
	seen := make(map[floor.JointTriple]bool)
	add := func(tr floor.JointTriple) {
		if !seen[tr] {
			seen[tr] = true
			e.triples = append(e.triples, tr)
		}
	}
	for i := range defs {
		add(defs[i].Joint)
		for _, tr := range defs[i].Signature() {
			add(tr)
		}
		for _, fc := range defs[i].FormChecks {
			add(fc.Joint)
		}
	}
	return e
}

// OnRep registers a hook invoked for each completed rep.
func (e *Engine) OnRep(f func(RepEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRep = append(e.onRep, f)
}

// OnForm registers a hook invoked for each dispatched form alert.
func (e *Engine) OnForm(f func(FormEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onForm = append(e.onForm, f)
}

// Process feeds one observation through smoothing, classification, rep
// counting and form checks. nowWallNS drives alert cooldowns only;
// session gaps are measured on the camera's own clock.
func (e *Engine) Process(obs *floor.Observation, nowWallNS int64) {
	key := obs.Key()

	e.mu.Lock()
	st, ok := e.tracks[key]
	if !ok {
		st = e.newTrackState()
		e.tracks[key] = st
	} else if st.lastObsNS != 0 &&
		obs.TimestampNS-st.lastObsNS > e.config.SessionTimeout.Nanoseconds() {
		// Session boundary: new set, counters and history reset, identity
		// linkage untouched (it lives in the resolver).
		floor.Diagf("exercise: %v/%d session gap %.1fs, starting new set",
			key.Camera, key.LocalID,
			float64(obs.TimestampNS-st.lastObsNS)/1e9)
		e.resetSession(st)
	}
	st.lastObsNS = obs.TimestampNS

	// Smooth every tracked joint visible this frame.
	medians := make(map[floor.JointTriple]float64, len(e.triples))
	for _, tr := range e.triples {
		angle, ok := floor.JointAngle(obs.Keypoints, tr, e.config.VisibilityThreshold)
		if !ok {
			continue
		}
		m := st.smoothers[tr].Push(angle)
		medians[tr] = m
		h := append(st.histories[tr], m)
		if len(h) > e.config.ClassifyWindow {
			h = h[1:]
		}
		st.histories[tr] = h
	}

	e.classify(st, key)

	var reps []RepEvent
	var forms []FormEvent
	if st.counter != nil {
		def := e.byLabel[st.label]
		if m, ok := medians[def.Joint]; ok && st.counter.Push(m) {
			reps = append(reps, RepEvent{
				Track:       key,
				SetID:       st.setID,
				Label:       st.label,
				RepCount:    st.counter.Count(),
				TimestampNS: obs.TimestampNS,
			})
		}
		for i, fc := range st.form.Checks() {
			m, ok := medians[fc.Joint]
			if !ok {
				continue
			}
			if a := st.form.Push(i, m, nowWallNS); a != nil {
				forms = append(forms, FormEvent{
					Track:       key,
					SetID:       st.setID,
					Alert:       *a,
					TimestampNS: obs.TimestampNS,
				})
			}
		}
	}
	repHooks, formHooks := e.onRep, e.onForm
	e.mu.Unlock()

	for _, ev := range reps {
		for _, f := range repHooks {
			f(ev)
		}
	}
	for _, ev := range forms {
		for _, f := range formHooks {
			f(ev)
		}
	}
}

// classify re-evaluates the track's exercise label. A degraded result
// ("unknown") never tears down an established exercise: rep counting
// continues until the classifier confidently names a different one.
func (e *Engine) classify(st *trackState, key floor.TrackKey) {
	label, conf := e.classifier.Classify(st.histories)
	if label == UnknownLabel {
		return
	}
	st.confidence = conf
	if label == st.label {
		return
	}

	def := e.byLabel[label]
	floor.Diagf("exercise: %v/%d classified as %s (confidence %.2f)",
		key.Camera, key.LocalID, label, conf)
	if st.label != UnknownLabel {
		// A different exercise is a different set; one set id never spans
		// two labels or a rep count that restarts.
		st.setID = uuid.NewString()
	}
	st.label = label
	st.counter = NewRepCounter(def.UpThreshold, def.DownThreshold)
	st.form = NewFormAnalyzer(def.FormChecks, e.config.FormDebounce, e.config.AlertCooldown)
}

func (e *Engine) newTrackState() *trackState {
	st := &trackState{
		setID:     uuid.NewString(),
		label:     UnknownLabel,
		smoothers: make(map[floor.JointTriple]*Smoother, len(e.triples)),
		histories: make(map[floor.JointTriple][]float64, len(e.triples)),
	}
	for _, tr := range e.triples {
		st.smoothers[tr] = NewSmoother(e.config.SmoothingWindow)
	}
	return st
}

func (e *Engine) resetSession(st *trackState) {
	st.setID = uuid.NewString()
	st.label = UnknownLabel
	st.confidence = 0
	st.counter = nil
	st.form = nil
	for _, s := range st.smoothers {
		s.Reset()
	}
	for tr := range st.histories {
		st.histories[tr] = st.histories[tr][:0]
	}
}

// Remove destroys a track's exercise state. Wired to the lifecycle
// arena's close hook so debounce/cooldown bookkeeping dies with the
// track.
func (e *Engine) Remove(key floor.TrackKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tracks, key)
}

// Snapshot returns the state of one track, or nil when untracked.
func (e *Engine) Snapshot(key floor.TrackKey) *StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.tracks[key]
	if !ok {
		return nil
	}
	s := e.snapshotLocked(key, st)
	return &s
}

// Snapshots returns the state of every tracked entity.
func (e *Engine) Snapshots() []StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StateSnapshot, 0, len(e.tracks))
	for key, st := range e.tracks {
		out = append(out, e.snapshotLocked(key, st))
	}
	return out
}

func (e *Engine) snapshotLocked(key floor.TrackKey, st *trackState) StateSnapshot {
	s := StateSnapshot{
		Track:      key,
		SetID:      st.setID,
		Label:      st.label,
		Confidence: st.confidence,
		Phase:      PhaseUnknown,
	}
	if st.counter != nil {
		s.Phase = st.counter.Phase()
		s.RepCount = st.counter.Count()
	}
	return s
}
