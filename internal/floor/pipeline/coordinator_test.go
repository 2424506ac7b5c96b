package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/banshee-data/floorsight/internal/events"
	"github.com/banshee-data/floorsight/internal/floor"
	"github.com/banshee-data/floorsight/internal/floor/exercise"
	"github.com/banshee-data/floorsight/internal/floor/guidance"
	"github.com/banshee-data/floorsight/internal/floor/identity"
	"github.com/banshee-data/floorsight/internal/timeutil"
)

func newTestCoordinator(publisher events.Publisher, config Config) *Coordinator {
	arena := floor.NewArena(floor.DefaultArenaConfig())
	exits := identity.NewExitRegistry(identity.DefaultGateWindow)
	resolver := identity.NewResolver(identity.DefaultConfig(), identity.NewMemoryGallery(), exits)
	engine := exercise.NewEngine(exercise.DefaultEngineConfig(), exercise.BuiltinDefinitions())
	limiter := guidance.NewLimiter(guidance.DefaultInterval)
	return New(config, arena, resolver, engine, limiter, exits, publisher, timeutil.RealClock{})
}

// curlObs builds a valid observation with the left elbow bent to angle.
func curlObs(cam floor.CameraID, id int64, frame int, angle float64) *floor.Observation {
	kp := func(x, y float32) floor.Keypoint {
		return floor.Keypoint{X: x, Y: y, Visibility: 0.9}
	}
	kps := make([]floor.Keypoint, floor.NumKeypoints)
	for i := range kps {
		kps[i] = kp(float32(i)*0.01, 2)
	}
	kps[floor.KPLeftShoulder] = kp(0, 1)
	kps[floor.KPLeftElbow] = kp(0, 0)
	rad := angle * math.Pi / 180
	kps[floor.KPLeftWrist] = kp(float32(math.Sin(rad)), float32(math.Cos(rad)))
	kps[floor.KPRightShoulder] = kp(2, 1)
	kps[floor.KPRightElbow] = kp(2, 0)
	kps[floor.KPRightWrist] = kp(2, -1)
	kps[floor.KPLeftHip] = kp(0, -2)
	kps[floor.KPRightHip] = kp(2, -2)
	kps[floor.KPLeftKnee] = kp(0, -3)
	kps[floor.KPRightKnee] = kp(2, -3)
	kps[floor.KPLeftAnkle] = kp(0, -4)
	kps[floor.KPRightAnkle] = kp(2, -4)

	app := make([]float32, floor.AppearanceDim)
	app[0] = 1
	return &floor.Observation{
		CameraID:    cam,
		LocalID:     id,
		TimestampNS: int64(frame) * int64(100*time.Millisecond),
		BBox:        floor.BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.4, Y2: 0.9},
		Keypoints:   kps,
		Appearance:  app,
	}
}

func waitProcessed(t *testing.T, c *Coordinator, cam floor.CameraID, want uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().Cameras[cam].Processed >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d processed observations on %s (got %d)",
		want, cam, c.Stats().Cameras[cam].Processed)
}

func TestCoordinatorEndToEnd(t *testing.T) {
	pub := events.NewMemoryPublisher()
	c := newTestCoordinator(pub, DefaultCoordinatorConfig())
	c.Start(context.Background())
	defer c.Stop()

	frame := 0
	for _, plateau := range []float64{170, 40, 170, 40, 170} {
		for i := 0; i < 6; i++ {
			c.Ingest(curlObs("cam/a", 1, frame, plateau))
			frame++
		}
	}
	waitProcessed(t, c, "cam/a", uint64(frame))

	resolved := pub.ByKind(events.KindIdentityResolved)
	if len(resolved) != 1 {
		t.Fatalf("identity events = %d, want 1", len(resolved))
	}
	identityID := resolved[0].(events.IdentityResolvedEvent).IdentityID
	if identityID == "" {
		t.Error("resolved event carries empty identity")
	}

	reps := pub.ByKind(events.KindRepCounted)
	if len(reps) != 2 {
		t.Fatalf("rep events = %d, want 2", len(reps))
	}
	for i, ev := range reps {
		rep := ev.(events.RepCountedEvent)
		if rep.ExerciseLabel != "bicep_curl" || rep.RepCount != i+1 {
			t.Errorf("rep %d = %+v, want bicep_curl #%d", i, rep, i+1)
		}
		if rep.EntityID != identityID {
			t.Errorf("rep %d entity = %q, want resolved identity %q", i, rep.EntityID, identityID)
		}
	}

	stats := c.Stats()
	if stats.RepsCounted != 2 {
		t.Errorf("stats.RepsCounted = %d, want 2", stats.RepsCounted)
	}
	if got := stats.Cameras["cam/a"]; got.Invalid != 0 || got.Dropped != 0 {
		t.Errorf("camera stats = %+v, want no invalid/dropped", got)
	}
}

func TestCoordinatorRejectsInvalidObservations(t *testing.T) {
	pub := events.NewMemoryPublisher()
	c := newTestCoordinator(pub, DefaultCoordinatorConfig())
	c.Start(context.Background())
	defer c.Stop()

	// Truncated keypoints.
	bad := curlObs("cam/a", 1, 0, 170)
	bad.Keypoints = bad.Keypoints[:5]
	c.Ingest(bad)

	// Zero-norm appearance embedding.
	bad = curlObs("cam/a", 1, 1, 170)
	bad.Appearance = make([]float32, floor.AppearanceDim)
	c.Ingest(bad)

	// NaN in the embedding.
	bad = curlObs("cam/a", 1, 2, 170)
	bad.Appearance[7] = float32(math.NaN())
	c.Ingest(bad)

	stats := c.Stats()
	if got := stats.Cameras["cam/a"].Invalid; got != 3 {
		t.Errorf("invalid count = %d, want 3", got)
	}
	if got := stats.Cameras["cam/a"].Processed; got != 0 {
		t.Errorf("processed count = %d, want 0", got)
	}
}

func TestCoordinatorBadFaceEmbeddingIsStripped(t *testing.T) {
	pub := events.NewMemoryPublisher()
	c := newTestCoordinator(pub, DefaultCoordinatorConfig())
	c.Start(context.Background())
	defer c.Stop()

	obs := curlObs("cam/a", 1, 0, 170)
	obs.Face = make([]float32, 16) // wrong dimension
	c.Ingest(obs)
	waitProcessed(t, c, "cam/a", 1)

	if got := c.Stats().Cameras["cam/a"].Invalid; got != 0 {
		t.Errorf("invalid count = %d, want 0 (frame kept, face dropped)", got)
	}
}

func TestCoordinatorDropsOldestOnOverflow(t *testing.T) {
	pub := events.NewMemoryPublisher()
	cfg := DefaultCoordinatorConfig()
	cfg.CameraBuffer = 4
	c := newTestCoordinator(pub, cfg)
	c.Start(context.Background())

	// Prime the worker, then stop it so the buffer can only fill.
	c.Ingest(curlObs("cam/a", 1, 0, 170))
	waitProcessed(t, c, "cam/a", 1)
	c.Stop()

	for i := 1; i <= 20; i++ {
		c.Ingest(curlObs("cam/a", 1, i, 170))
	}
	stats := c.Stats()
	if stats.Cameras["cam/a"].Dropped == 0 {
		t.Error("no drops recorded after overflowing a stopped worker")
	}
	if got := stats.Cameras["cam/a"].Received; got != 21 {
		t.Errorf("received = %d, want 21", got)
	}
}

func TestCoordinatorCloseTrackDiscardsExerciseState(t *testing.T) {
	pub := events.NewMemoryPublisher()
	c := newTestCoordinator(pub, DefaultCoordinatorConfig())
	c.Start(context.Background())
	defer c.Stop()

	c.Ingest(curlObs("cam/a", 1, 0, 170))
	waitProcessed(t, c, "cam/a", 1)

	key := floor.TrackKey{Camera: "cam/a", LocalID: 1}
	c.CloseTrack(key)
	if c.exercises.Snapshot(key) != nil {
		t.Error("exercise state survived track closure")
	}
	if tr := c.arena.Get(key); tr == nil || tr.State != floor.TrackClosed {
		t.Errorf("track state = %+v, want closed", tr)
	}
}
