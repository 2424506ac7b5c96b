// Package guidance gates outbound coaching dispatches per entity. The
// engine decides only whether an event is forwarded; what the guidance
// says is an external collaborator's business.
package guidance

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between guidance dispatches for
// one entity.
const DefaultInterval = 30 * time.Second

// Limiter allows at most one dispatch per entity per interval. Events
// inside the window are dropped, never queued: live coaching must
// reflect the present, not replay a backlog. Decisions are plain
// timestamp comparisons on the incoming event; nothing ticks in the
// background.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	lastNS   map[string]int64
}

// NewLimiter creates a limiter with the given per-entity interval.
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Limiter{interval: interval, lastNS: make(map[string]int64)}
}

// Allow reports whether a dispatch for the entity may go out now, and
// records the dispatch when it may. The first event for an entity is
// always allowed.
func (l *Limiter) Allow(entity string, nowWallNS int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.lastNS[entity]
	if ok && nowWallNS-last < l.interval.Nanoseconds() {
		return false
	}
	l.lastNS[entity] = nowWallNS
	return true
}

// Forget drops an entity's dispatch history. Wired to track purging so
// the map cannot grow without bound.
func (l *Limiter) Forget(entity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lastNS, entity)
}

// Len returns the number of entities with recorded dispatches.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastNS)
}
