package identity

import (
	"sync"
	"time"

	"github.com/banshee-data/floorsight/internal/floor"
)

// DefaultGateWindow is how long an exit event stays eligible for gating.
const DefaultGateWindow = 10 * time.Second

// ExitEvent records a track closing with a known identity: the raw
// material for spatial-temporal gating. A person who just left one
// camera is the most likely owner of a track appearing moments later.
type ExitEvent struct {
	Camera   floor.CameraID
	Identity floor.IdentityID
	CenterX  float32
	CenterY  float32
	WhenNS   int64 // wall clock
}

// ExitRegistry is the short-lived venue-wide registry of recent exits.
// Entries expire after the gate window; Prune is called from the
// coordinator's sweep tick so the registry stays bounded.
type ExitRegistry struct {
	mu     sync.Mutex
	window time.Duration
	events []ExitEvent
}

// NewExitRegistry creates a registry with the given gate window.
func NewExitRegistry(window time.Duration) *ExitRegistry {
	if window <= 0 {
		window = DefaultGateWindow
	}
	return &ExitRegistry{window: window}
}

// Record adds an exit event.
func (r *ExitRegistry) Record(ev ExitEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Recent returns the identities that exited within the gate window
// before nowNS. Expired entries are dropped as a side effect.
func (r *ExitRegistry) Recent(nowNS int64) map[floor.IdentityID]ExitEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(nowNS)

	out := make(map[floor.IdentityID]ExitEvent, len(r.events))
	for _, ev := range r.events {
		// Later exits win for the same identity.
		out[ev.Identity] = ev
	}
	return out
}

// Prune drops entries older than the gate window.
func (r *ExitRegistry) Prune(nowNS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(nowNS)
}

func (r *ExitRegistry) pruneLocked(nowNS int64) {
	cutoff := nowNS - r.window.Nanoseconds()
	kept := r.events[:0]
	for _, ev := range r.events {
		if ev.WhenNS >= cutoff {
			kept = append(kept, ev)
		}
	}
	r.events = kept
}

// Len returns the current number of recorded exits.
func (r *ExitRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
