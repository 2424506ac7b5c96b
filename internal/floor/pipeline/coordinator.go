// Package pipeline fans per-camera observation streams into the track
// lifecycle, identity resolution, and exercise analysis stages, with
// bounded per-camera buffers and drop-oldest backpressure.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/floorsight/internal/events"
	"github.com/banshee-data/floorsight/internal/floor"
	"github.com/banshee-data/floorsight/internal/floor/exercise"
	"github.com/banshee-data/floorsight/internal/floor/guidance"
	"github.com/banshee-data/floorsight/internal/floor/identity"
	"github.com/banshee-data/floorsight/internal/timeutil"
)

// Coordinator defaults.
const (
	// DefaultCameraBuffer bounds each camera's in-flight observations.
	// Overflow drops the oldest entry: for live coaching a stale frame is
	// worse than a gap.
	DefaultCameraBuffer = 64
	// DefaultSweepInterval drives lifecycle sweeps and gating prune.
	DefaultSweepInterval = 1 * time.Second
)

// Config holds coordinator tuning.
type Config struct {
	CameraBuffer  int
	SweepInterval time.Duration
}

// DefaultCoordinatorConfig returns the default coordinator configuration.
func DefaultCoordinatorConfig() Config {
	return Config{
		CameraBuffer:  DefaultCameraBuffer,
		SweepInterval: DefaultSweepInterval,
	}
}

// Coordinator owns one worker goroutine per camera. Observations for
// one camera are processed in order; cameras never block each other.
// Cross-camera shared state is confined to the resolver's gallery and
// exit registry, which enforce their own locking discipline.
type Coordinator struct {
	config    Config
	arena     *floor.Arena
	resolver  *identity.Resolver
	exercises *exercise.Engine
	limiter   *guidance.Limiter
	exits     *identity.ExitRegistry
	publisher events.Publisher
	clock     timeutil.Clock
	stats     *Stats

	mu      sync.Mutex
	workers map[floor.CameraID]*cameraWorker
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ctx     context.Context
}

type cameraWorker struct {
	ch chan *floor.Observation
}

// New wires a coordinator over the analysis stages. The publisher may be
// nil during tests; events are then dropped silently.
func New(config Config, arena *floor.Arena, resolver *identity.Resolver,
	exercises *exercise.Engine, limiter *guidance.Limiter,
	exits *identity.ExitRegistry, publisher events.Publisher,
	clock timeutil.Clock) *Coordinator {

	if config.CameraBuffer <= 0 {
		config.CameraBuffer = DefaultCameraBuffer
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Coordinator{
		config:    config,
		arena:     arena,
		resolver:  resolver,
		exercises: exercises,
		limiter:   limiter,
		exits:     exits,
		publisher: publisher,
		clock:     clock,
		stats:     newStats(),
		workers:   make(map[floor.CameraID]*cameraWorker),
	}

	// Track closure tears down exercise state immediately and records the
	// exit for gating; purge releases the linkage and guidance history.
	arena.OnClose(func(t *floor.LocalTrack, nowWallNS int64) {
		c.exercises.Remove(t.Key)
		c.resolver.RecordExit(t, nowWallNS)
	})
	arena.OnPurge(func(t *floor.LocalTrack) {
		// Both entity spellings may hold guidance history: the resolved
		// identity and the anonymous track form from before resolution.
		c.limiter.Forget(c.entityFor(t.Key))
		c.limiter.Forget(fmt.Sprintf("track:%s/%d", t.Key.Camera, t.Key.LocalID))
		c.resolver.Release(t.Key)
	})

	resolver.OnResolved(func(l floor.Linkage) {
		c.publish(events.IdentityResolvedEvent{
			CameraID:     string(l.Track.Camera),
			LocalTrackID: l.Track.LocalID,
			IdentityID:   string(l.Identity),
			Confidence:   l.Confidence,
			Method:       string(l.Method),
			TimestampNS:  l.ResolvedNS,
		})
	})
	exercises.OnRep(func(ev exercise.RepEvent) {
		c.stats.add(&c.stats.RepsCounted)
		c.publish(events.RepCountedEvent{
			EntityID:      c.entityFor(ev.Track),
			SetID:         ev.SetID,
			ExerciseLabel: ev.Label,
			RepCount:      ev.RepCount,
			TimestampNS:   ev.TimestampNS,
		})
	})
	exercises.OnForm(func(ev exercise.FormEvent) {
		c.stats.add(&c.stats.FormAlerts)
		entity := c.entityFor(ev.Track)
		c.publish(events.FormAlertEvent{
			EntityID:    entity,
			SetID:       ev.SetID,
			AlertKey:    ev.Alert.Key,
			Joint:       [3]int(ev.Alert.Joint),
			Value:       ev.Alert.Value,
			TimestampNS: ev.TimestampNS,
		})
		if c.limiter.Allow(entity, c.clock.Now().UnixNano()) {
			c.stats.add(&c.stats.GuidanceSent)
			c.publish(events.GuidanceEvent{
				EntityID:    entity,
				AlertKey:    ev.Alert.Key,
				Value:       ev.Alert.Value,
				TimestampNS: ev.TimestampNS,
			})
		} else {
			c.stats.add(&c.stats.GuidanceDropped)
		}
	})
	return c
}

// entityFor names the entity an event belongs to: the resolved identity
// when one exists, otherwise the anonymous track itself.
func (c *Coordinator) entityFor(key floor.TrackKey) string {
	if l := c.resolver.Linkage(key); l != nil {
		return string(l.Identity)
	}
	return fmt.Sprintf("track:%s/%d", key.Camera, key.LocalID)
}

// Start launches the sweep loop. Camera workers start lazily on first
// observation.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.sweepLoop()
}

// Stop cancels all workers and waits for them to drain.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

// Ingest validates and routes one observation to its camera worker.
// Corrupt observations are counted and skipped; entity state is never
// touched by a bad frame.
func (c *Coordinator) Ingest(obs *floor.Observation) {
	c.stats.addReceived(obs.CameraID)
	if !validObservation(obs) {
		c.stats.addInvalid(obs.CameraID)
		floor.Tracef("pipeline: invalid observation %s/%d dropped", obs.CameraID, obs.LocalID)
		return
	}

	w := c.worker(obs.CameraID)
	if w == nil {
		return // not started
	}
	select {
	case w.ch <- obs:
	default:
		// Buffer full: drop the oldest entry in favour of freshness.
		select {
		case <-w.ch:
			c.stats.addDropped(obs.CameraID)
		default:
		}
		select {
		case w.ch <- obs:
		default:
			c.stats.addDropped(obs.CameraID)
		}
	}
}

// CloseTrack handles an explicit closure signal from the upstream
// tracker.
func (c *Coordinator) CloseTrack(key floor.TrackKey) {
	c.arena.Close(key, c.clock.Now())
}

// Stats returns a snapshot of the pipeline counters.
func (c *Coordinator) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

func (c *Coordinator) worker(cam floor.CameraID) *cameraWorker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	w, ok := c.workers[cam]
	if !ok {
		w = &cameraWorker{ch: make(chan *floor.Observation, c.config.CameraBuffer)}
		c.workers[cam] = w
		c.wg.Add(1)
		go c.runWorker(cam, w)
		floor.Diagf("pipeline: started worker for %s", cam)
	}
	return w
}

func (c *Coordinator) runWorker(cam floor.CameraID, w *cameraWorker) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case obs := <-w.ch:
			c.process(obs)
			c.stats.addProcessed(cam)
		}
	}
}

// process runs one observation through the stages in order: lifecycle,
// exercise analysis, then (when due) identity resolution.
func (c *Coordinator) process(obs *floor.Observation) {
	now := c.clock.Now()
	track, created := c.arena.Observe(obs, now)
	if track == nil {
		return // observation for an already-closed track
	}
	if created {
		floor.Diagf("pipeline: new track %s/%d", obs.CameraID, obs.LocalID)
	}

	c.exercises.Process(obs, now.UnixNano())

	if c.resolver.Due(track.ObservationCount) {
		c.resolver.Resolve(c.ctx, track, now.UnixNano())
	}
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C():
			lost, closed, purged := c.arena.Sweep(now)
			if lost+closed+purged > 0 {
				floor.Tracef("pipeline: sweep lost=%d closed=%d purged=%d", lost, closed, purged)
			}
			c.exits.Prune(now.UnixNano())
		}
	}
}

func (c *Coordinator) publish(ev events.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(c.ctx, ev); err != nil {
		c.stats.add(&c.stats.PublishFailures)
		floor.Opsf("pipeline: publish %s failed, dropping: %v", ev.Kind(), err)
	}
}

// validObservation rejects frames with corrupt keypoints or embeddings.
func validObservation(obs *floor.Observation) bool {
	if obs.CameraID == "" || len(obs.Keypoints) != floor.NumKeypoints {
		return false
	}
	if !floor.ValidEmbedding(obs.Appearance, floor.AppearanceDim) {
		return false
	}
	if obs.Face != nil && !floor.ValidEmbedding(obs.Face, floor.FaceDim) {
		// A bad face embedding alone does not void the frame.
		obs.Face = nil
	}
	return true
}
