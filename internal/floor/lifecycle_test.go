package floor

import (
	"testing"
	"time"
)

func testObservation(cam CameraID, id int64, tsNS int64) *Observation {
	app := make([]float32, AppearanceDim)
	app[0] = 1
	return &Observation{
		CameraID:    cam,
		LocalID:     id,
		TimestampNS: tsNS,
		BBox:        BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.3, Y2: 0.5, Confidence: 0.9},
		Keypoints:   makeKeypoints(0.9),
		Appearance:  app,
	}
}

func TestArenaObserveCreatesTrack(t *testing.T) {
	a := NewArena(DefaultArenaConfig())
	now := time.Unix(1000, 0)

	tr, created := a.Observe(testObservation("cam/a", 1, 100), now)
	if !created {
		t.Fatal("Observe() did not create a track on first sight")
	}
	if tr.State != TrackActive {
		t.Errorf("new track state = %v, want active", tr.State)
	}

	_, created = a.Observe(testObservation("cam/a", 1, 200), now.Add(100*time.Millisecond))
	if created {
		t.Error("Observe() created a duplicate track for the same key")
	}
	if tr.ObservationCount != 2 {
		t.Errorf("ObservationCount = %d, want 2", tr.ObservationCount)
	}
}

func TestArenaLifecycleTransitions(t *testing.T) {
	a := NewArena(DefaultArenaConfig())
	now := time.Unix(1000, 0)

	tr, _ := a.Observe(testObservation("cam/a", 1, 100), now)

	// Within active_timeout: stays active.
	a.Sweep(now.Add(1 * time.Second))
	if tr.State != TrackActive {
		t.Errorf("state after 1s = %v, want active", tr.State)
	}

	// Past active_timeout: lost.
	lost, _, _ := a.Sweep(now.Add(3 * time.Second))
	if lost != 1 || tr.State != TrackLost {
		t.Errorf("state after 3s = %v (lost=%d), want lost", tr.State, lost)
	}

	// New observation re-activates a lost track.
	a.Observe(testObservation("cam/a", 1, 200), now.Add(4*time.Second))
	if tr.State != TrackActive {
		t.Errorf("state after re-observation = %v, want active", tr.State)
	}

	// Past close_timeout: closed.
	_, closed, _ := a.Sweep(now.Add(40 * time.Second))
	if closed != 1 || tr.State != TrackClosed {
		t.Errorf("state after 40s = %v (closed=%d), want closed", tr.State, closed)
	}

	// Closed tracks reject further observations.
	if _, created := a.Observe(testObservation("cam/a", 1, 300), now.Add(41*time.Second)); created {
		t.Error("Observe() revived a closed track")
	}

	// Past purge grace: purged.
	_, _, purged := a.Sweep(now.Add(60 * time.Second))
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if a.Get(TrackKey{Camera: "cam/a", LocalID: 1}) != nil {
		t.Error("track still present after purge")
	}
}

func TestArenaCloseHooks(t *testing.T) {
	a := NewArena(DefaultArenaConfig())
	now := time.Unix(1000, 0)

	var closedKeys []TrackKey
	var purgedKeys []TrackKey
	a.OnClose(func(tr *LocalTrack, _ int64) { closedKeys = append(closedKeys, tr.Key) })
	a.OnPurge(func(tr *LocalTrack) { purgedKeys = append(purgedKeys, tr.Key) })

	a.Observe(testObservation("cam/a", 7, 100), now)
	key := TrackKey{Camera: "cam/a", LocalID: 7}

	if !a.Close(key, now.Add(time.Second)) {
		t.Fatal("Close() failed on a live track")
	}
	if len(closedKeys) != 1 || closedKeys[0] != key {
		t.Errorf("close hooks saw %v, want [%v]", closedKeys, key)
	}
	if a.Close(key, now.Add(2*time.Second)) {
		t.Error("Close() succeeded twice for the same track")
	}

	a.Sweep(now.Add(30 * time.Second))
	if len(purgedKeys) != 1 || purgedKeys[0] != key {
		t.Errorf("purge hooks saw %v, want [%v]", purgedKeys, key)
	}
}

func TestArenaAppearanceWindowBounded(t *testing.T) {
	cfg := DefaultArenaConfig()
	cfg.EmbeddingWindow = 3
	a := NewArena(cfg)
	now := time.Unix(1000, 0)

	var tr *LocalTrack
	for i := 0; i < 10; i++ {
		obs := testObservation("cam/a", 1, int64(i)*1e8)
		obs.Appearance[1] = float32(i) // distinguishable
		tr, _ = a.Observe(obs, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	window := tr.AppearanceWindow()
	if len(window) != 3 {
		t.Fatalf("window length = %d, want 3", len(window))
	}
	// Oldest entries were dropped; window holds the last three.
	if window[0][1] != 7 || window[2][1] != 9 {
		t.Errorf("window = [%v .. %v], want [7 .. 9]", window[0][1], window[2][1])
	}
}

func TestArenaCounts(t *testing.T) {
	a := NewArena(DefaultArenaConfig())
	now := time.Unix(1000, 0)

	a.Observe(testObservation("cam/a", 1, 100), now)
	a.Observe(testObservation("cam/b", 1, 100), now)
	a.Close(TrackKey{Camera: "cam/b", LocalID: 1}, now)

	total, active, lost, closed := a.Counts()
	if total != 2 || active != 1 || lost != 0 || closed != 1 {
		t.Errorf("Counts() = (%d,%d,%d,%d), want (2,1,0,1)", total, active, lost, closed)
	}
	if live := a.Live(); len(live) != 1 {
		t.Errorf("Live() = %d tracks, want 1", len(live))
	}
}
