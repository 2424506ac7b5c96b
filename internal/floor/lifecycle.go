package floor

import (
	"sync"
	"time"
)

// Default lifecycle timing. Transitions are driven purely by elapsed
// wall-clock time since the last accepted observation plus explicit
// closure signals from the upstream tracker.
const (
	// DefaultActiveTimeout is how long a track stays active without
	// observations before becoming lost.
	DefaultActiveTimeout = 2 * time.Second
	// DefaultCloseTimeout is how long a track may stay lost before it
	// is closed.
	DefaultCloseTimeout = 30 * time.Second
	// DefaultPurgeGrace is how long a closed track is retained for
	// spatial-temporal gating before the sweep removes it.
	DefaultPurgeGrace = 10 * time.Second
	// DefaultEmbeddingWindow caps the rolling appearance window per track.
	DefaultEmbeddingWindow = 20
)

// ArenaConfig holds configuration for the track lifecycle arena.
type ArenaConfig struct {
	ActiveTimeout   time.Duration // active → lost after this much silence
	CloseTimeout    time.Duration // lost → closed after this much silence
	PurgeGrace      time.Duration // closed → purged after this much more
	EmbeddingWindow int           // rolling appearance window capacity
}

// DefaultArenaConfig returns the default lifecycle configuration.
func DefaultArenaConfig() ArenaConfig {
	return ArenaConfig{
		ActiveTimeout:   DefaultActiveTimeout,
		CloseTimeout:    DefaultCloseTimeout,
		PurgeGrace:      DefaultPurgeGrace,
		EmbeddingWindow: DefaultEmbeddingWindow,
	}
}

// Arena owns every LocalTrack in the venue. Eviction is tied to the
// closed lifecycle transition plus the periodic sweep, so per-track
// state can never accumulate without bound.
//
// The close and purge hooks let downstream components (session engine,
// resolver, guidance limiter) discard their per-track bookkeeping the
// moment a track dies; no timers outlive their owning track.
type Arena struct {
	mu     sync.RWMutex
	tracks map[TrackKey]*LocalTrack
	config ArenaConfig

	onClose []func(t *LocalTrack, nowWallNS int64)
	onPurge []func(t *LocalTrack)

	// wall-clock last-seen per track, nanoseconds. Kept separate from
	// LocalTrack.LastSeenNS, which carries the camera's own monotonic
	// timestamp and must not be compared across cameras.
	lastSeenWall map[TrackKey]int64
}

// NewArena creates an empty track arena.
func NewArena(config ArenaConfig) *Arena {
	if config.EmbeddingWindow <= 0 {
		config.EmbeddingWindow = DefaultEmbeddingWindow
	}
	return &Arena{
		tracks:       make(map[TrackKey]*LocalTrack),
		lastSeenWall: make(map[TrackKey]int64),
		config:       config,
	}
}

// OnClose registers a hook invoked (under the arena lock) when a track
// transitions to closed, either by timeout or explicit closure.
func (a *Arena) OnClose(f func(t *LocalTrack, nowWallNS int64)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onClose = append(a.onClose, f)
}

// OnPurge registers a hook invoked when a closed track is removed after
// its gating grace period.
func (a *Arena) OnPurge(f func(t *LocalTrack)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPurge = append(a.onPurge, f)
}

// Observe records a valid observation against its track, creating the
// track on first sight. Returns the track and whether it was created.
// A lost track that receives a new observation is re-activated; closed
// tracks stay closed — the upstream tracker has already retired the
// local ID, so a reappearing person arrives under a fresh ID.
func (a *Arena) Observe(obs *Observation, nowWall time.Time) (*LocalTrack, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := obs.Key()
	nowNS := nowWall.UnixNano()

	t, ok := a.tracks[key]
	if ok && t.State == TrackClosed {
		return nil, false
	}

	created := false
	if !ok {
		t = &LocalTrack{
			Key:       key,
			State:     TrackActive,
			CreatedNS: obs.TimestampNS,
		}
		a.tracks[key] = t
		created = true
	}

	t.State = TrackActive
	t.LastSeenNS = obs.TimestampNS
	t.LastCenterX = obs.BBox.CenterX()
	t.LastCenterY = obs.BBox.CenterY()
	t.ObservationCount++
	a.lastSeenWall[key] = nowNS

	if len(obs.Appearance) > 0 {
		t.appearanceWindow = append(t.appearanceWindow, obs.Appearance)
		if len(t.appearanceWindow) > a.config.EmbeddingWindow {
			t.appearanceWindow = t.appearanceWindow[1:]
		}
	}
	if len(obs.Face) > 0 {
		t.lastFace = obs.Face
	}

	return t, created
}

// Close marks a track closed immediately (explicit closure signal from
// the upstream detector/tracker). Close hooks fire at once so pending
// cooldown/debounce bookkeeping is discarded without waiting for a sweep.
func (a *Arena) Close(key TrackKey, nowWall time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tracks[key]
	if !ok || t.State == TrackClosed {
		return false
	}
	a.closeLocked(t, nowWall.UnixNano())
	return true
}

func (a *Arena) closeLocked(t *LocalTrack, nowWallNS int64) {
	t.State = TrackClosed
	t.ClosedNS = nowWallNS
	for _, f := range a.onClose {
		f(t, nowWallNS)
	}
}

// Sweep advances lifecycle states by elapsed time and purges closed
// tracks past their gating grace period. Call it periodically from the
// coordinator's sweep tick.
func (a *Arena) Sweep(nowWall time.Time) (lost, closed, purged int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nowNS := nowWall.UnixNano()
	activeNS := a.config.ActiveTimeout.Nanoseconds()
	closeNS := a.config.CloseTimeout.Nanoseconds()
	graceNS := a.config.PurgeGrace.Nanoseconds()

	var toPurge []TrackKey
	for key, t := range a.tracks {
		switch t.State {
		case TrackActive, TrackLost:
			silence := nowNS - a.lastSeenWall[key]
			if silence > closeNS {
				a.closeLocked(t, nowNS)
				closed++
			} else if silence > activeNS && t.State == TrackActive {
				t.State = TrackLost
				lost++
			}
		case TrackClosed:
			if nowNS-t.ClosedNS > graceNS {
				toPurge = append(toPurge, key)
			}
		}
	}

	for _, key := range toPurge {
		t := a.tracks[key]
		delete(a.tracks, key)
		delete(a.lastSeenWall, key)
		for _, f := range a.onPurge {
			f(t)
		}
		purged++
	}
	return lost, closed, purged
}

// Get returns a track by key, or nil if not present.
func (a *Arena) Get(key TrackKey) *LocalTrack {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tracks[key]
}

// Live returns all non-closed tracks.
func (a *Arena) Live() []*LocalTrack {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*LocalTrack, 0, len(a.tracks))
	for _, t := range a.tracks {
		if t.State != TrackClosed {
			out = append(out, t)
		}
	}
	return out
}

// Counts returns track counts by lifecycle state.
func (a *Arena) Counts() (total, active, lost, closed int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, t := range a.tracks {
		total++
		switch t.State {
		case TrackActive:
			active++
		case TrackLost:
			lost++
		case TrackClosed:
			closed++
		}
	}
	return
}
