package exercise

// Phase is the rep-counter state for the primary joint.
type Phase string

const (
	PhaseUp      Phase = "up"
	PhaseDown    Phase = "down"
	PhaseUnknown Phase = "unknown"
)

// RepCounter is the hysteresis state machine for one exercise's primary
// joint. The band between the thresholds absorbs boundary chatter: only
// a smoothed value beyond a threshold confirms a zone, and a rep counts
// exactly once per full traversal from the starting zone to the
// opposite one.
//
// The starting zone is whichever zone the signal confirms first, so the
// same machine handles both polarities: a curl starts extended (up zone,
// high angle) and counts on reaching the down zone; a press starts
// folded and counts on reaching the up zone.
type RepCounter struct {
	up, down float64

	phase     Phase
	startZone Phase
	count     int
}

// NewRepCounter creates a counter for the given hysteresis thresholds.
// up must exceed down; Definition.Validate enforces this at load time.
func NewRepCounter(up, down float64) *RepCounter {
	return &RepCounter{up: up, down: down, phase: PhaseUnknown}
}

// Push feeds one smoothed sample and reports whether it completed a rep.
func (c *RepCounter) Push(angle float64) bool {
	zone := PhaseUnknown
	switch {
	case angle >= c.up:
		zone = PhaseUp
	case angle <= c.down:
		zone = PhaseDown
	}
	if zone == PhaseUnknown || zone == c.phase {
		// In the hysteresis band or still in the confirmed zone.
		return false
	}

	prev := c.phase
	c.phase = zone
	if prev == PhaseUnknown {
		c.startZone = zone
		return false
	}
	if zone != c.startZone {
		c.count++
		return true
	}
	return false
}

// Phase returns the current confirmed phase.
func (c *RepCounter) Phase() Phase { return c.phase }

// Count returns the reps completed since the last reset. It never
// decreases except through Reset.
func (c *RepCounter) Count() int { return c.count }

// Reset zeroes the count and forgets the phase. Used at session
// boundaries and when the classified exercise changes.
func (c *RepCounter) Reset() {
	c.phase = PhaseUnknown
	c.startZone = PhaseUnknown
	c.count = 0
}
