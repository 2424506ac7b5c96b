package exercise

import (
	"time"

	"github.com/banshee-data/floorsight/internal/floor"
)

// Alert is one form violation that cleared debounce and cooldown.
type Alert struct {
	Key   string
	Joint floor.JointTriple
	Value float64 // the offending smoothed angle
}

type checkState struct {
	consecutive int
	alerted     bool  // this episode already produced (or swallowed) its alert
	lastEmitNS  int64 // wall clock of last emission, 0 = never
}

// FormAnalyzer runs configured range checks over the smoothed angle
// signal. A violation episode opens after debounce consecutive valid
// out-of-range frames and produces at most one alert; emissions of the
// same key are additionally spaced by the cooldown, measured from the
// last emission, even while a violation persists. Everything is plain
// timestamp comparison on the incoming samples; there are no timers to
// leak when a track closes.
type FormAnalyzer struct {
	checks   []FormCheck
	debounce int
	cooldown time.Duration
	states   []checkState
}

// NewFormAnalyzer creates an analyzer for one track's checks.
func NewFormAnalyzer(checks []FormCheck, debounce int, cooldown time.Duration) *FormAnalyzer {
	if debounce <= 0 {
		debounce = DefaultFormDebounceFrames
	}
	if cooldown <= 0 {
		cooldown = DefaultAlertCooldown
	}
	return &FormAnalyzer{
		checks:   checks,
		debounce: debounce,
		cooldown: cooldown,
		states:   make([]checkState, len(checks)),
	}
}

// Checks returns the analyzer's configured checks.
func (f *FormAnalyzer) Checks() []FormCheck { return f.checks }

// Push feeds one valid smoothed angle for check i and returns a non-nil
// Alert when this frame both completes the debounce and clears the
// cooldown. Frames where the joint could not be measured must simply not
// be pushed; they neither advance nor reset the debounce.
func (f *FormAnalyzer) Push(i int, angle float64, nowWallNS int64) *Alert {
	c := &f.checks[i]
	st := &f.states[i]

	if angle >= c.Min && angle <= c.Max {
		// Back in range: the episode is over.
		st.consecutive = 0
		st.alerted = false
		return nil
	}

	st.consecutive++
	if st.consecutive < f.debounce || st.alerted {
		return nil
	}
	st.alerted = true
	if st.lastEmitNS != 0 && nowWallNS-st.lastEmitNS < f.cooldown.Nanoseconds() {
		// Inside the cooldown: this episode's alert is dropped, not queued.
		return nil
	}
	st.lastEmitNS = nowWallNS
	return &Alert{Key: c.Key, Joint: c.Joint, Value: angle}
}

// Reset clears all episode state but keeps emission times, so a session
// reset does not defeat the cooldown.
func (f *FormAnalyzer) Reset() {
	for i := range f.states {
		f.states[i].consecutive = 0
		f.states[i].alerted = false
	}
}
