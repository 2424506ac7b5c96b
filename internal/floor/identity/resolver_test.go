package identity

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/banshee-data/floorsight/internal/floor"
)

// unitVec returns a unit vector whose cosine similarity to the reference
// axis {1,0,0,0} is cos.
func unitVec(cos float64) []float32 {
	sin := math.Sqrt(1 - cos*cos)
	return []float32{float32(cos), float32(sin), 0, 0}
}

// trackWithWindow builds a live track whose appearance window holds the
// given embedding, via the lifecycle arena.
func trackWithWindow(t *testing.T, arena *floor.Arena, cam floor.CameraID, id int64, app, face []float32, n int) *floor.LocalTrack {
	t.Helper()
	now := time.Unix(1000, 0)
	var tr *floor.LocalTrack
	for i := 0; i < n; i++ {
		obs := &floor.Observation{
			CameraID:    cam,
			LocalID:     id,
			TimestampNS: int64(i) * 1e8,
			BBox:        floor.BoundingBox{X1: 0.4, Y1: 0.4, X2: 0.6, Y2: 0.9},
			Appearance:  app,
			Face:        face,
		}
		tr, _ = arena.Observe(obs, now.Add(time.Duration(i)*100*time.Millisecond))
	}
	return tr
}

func newTestResolver(gallery Gallery) (*Resolver, *ExitRegistry) {
	exits := NewExitRegistry(DefaultGateWindow)
	return NewResolver(DefaultConfig(), gallery, exits), exits
}

func TestResolveAppearanceLink(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	if err := gallery.Upsert(ctx, "alice", unitVec(1), nil); err != nil {
		t.Fatal(err)
	}

	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(0.82), nil, 10)

	l := r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil {
		t.Fatal("Resolve() returned nil for a clear appearance match")
	}
	if l.Identity != "alice" || l.Method != floor.LinkAppearance {
		t.Errorf("linkage = %s via %s, want alice via appearance", l.Identity, l.Method)
	}
	if l.Confidence < 0.80 || l.Confidence > 0.84 {
		t.Errorf("confidence = %v, want ~0.82", l.Confidence)
	}
}

func TestResolveWeakFaceDoesNotOverride(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	gallery.Upsert(ctx, "alice", unitVec(1), nil)
	gallery.Upsert(ctx, "bob", []float32{0, 0, 1, 0}, unitVec(1))

	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())

	// First window: appearance 0.82 to alice, no face.
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(0.82), nil, 10)
	l := r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil || l.Identity != "alice" {
		t.Fatalf("initial linkage = %+v, want alice", l)
	}

	// Later window carries a weak face match to bob (0.60 < 0.85): the
	// existing appearance linkage must stand.
	tr = trackWithWindow(t, arena, "cam/a", 1, unitVec(0.82), unitVec(0.60), 20)
	l = r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil || l.Identity != "alice" || l.Method != floor.LinkAppearance {
		t.Errorf("linkage after weak face = %+v, want alice via appearance", l)
	}
}

func TestResolveFaceOverride(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	// bob's appearance is a mediocre match (0.60) but his face matches
	// strongly; alice wins on appearance alone.
	gallery.Upsert(ctx, "alice", unitVec(1), nil)
	gallery.Upsert(ctx, "bob", unitVec(0.60), unitVec(1))

	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(1), unitVec(0.95), 10)

	l := r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil {
		t.Fatal("Resolve() returned nil")
	}
	if l.Identity != "bob" || l.Method != floor.LinkFaceOverride {
		t.Errorf("linkage = %s via %s, want bob via face_override", l.Identity, l.Method)
	}
}

func TestResolveFaceSanityFloorDefersConflict(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	// bob's face matches perfectly but his appearance similarity to the
	// track is ~0: glitch, leave unresolved.
	gallery.Upsert(ctx, "bob", []float32{0, 0, 1, 0}, unitVec(1))

	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(1), unitVec(0.95), 10)

	if l := r.Resolve(ctx, tr, time.Now().UnixNano()); l != nil {
		t.Errorf("Resolve() = %+v, want nil (conflict deferred)", l)
	}
	if got := r.Linkage(tr.Key); got != nil {
		t.Errorf("Linkage() = %+v, want nil", got)
	}
}

func TestResolveAmbiguityDefers(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	gallery.Upsert(ctx, "alice", unitVec(0.99), nil)
	gallery.Upsert(ctx, "bob", unitVec(0.97), nil)

	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(1), nil, 10)

	if l := r.Resolve(ctx, tr, time.Now().UnixNano()); l != nil {
		t.Errorf("Resolve() = %+v, want nil (ambiguous top candidates)", l)
	}
}

func TestResolveMintsDistinctAnonymousIdentities(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())

	// Two simultaneously active tracks on different cameras with
	// dissimilar appearance: they must never share an identity.
	trA := trackWithWindow(t, arena, "cam/a", 1, unitVec(1), nil, 10)
	trB := trackWithWindow(t, arena, "cam/b", 7, []float32{0, 0, 1, 0}, nil, 10)

	lA := r.Resolve(ctx, trA, time.Now().UnixNano())
	lB := r.Resolve(ctx, trB, time.Now().UnixNano())
	if lA == nil || lB == nil {
		t.Fatal("Resolve() failed to mint anonymous identities")
	}
	if lA.Identity == lB.Identity {
		t.Errorf("two dissimilar tracks share identity %s", lA.Identity)
	}
	if !isAnonymous(lA.Identity) || !isAnonymous(lB.Identity) {
		t.Errorf("minted identities %s/%s are not anonymous placeholders", lA.Identity, lB.Identity)
	}

	// A matching track on a third camera links to the minted identity.
	trC := trackWithWindow(t, arena, "cam/c", 3, unitVec(0.98), nil, 10)
	lC := r.Resolve(ctx, trC, time.Now().UnixNano())
	if lC == nil || lC.Identity != lA.Identity {
		t.Errorf("cross-camera linkage = %+v, want identity %s", lC, lA.Identity)
	}
}

func TestResolveGateBoost(t *testing.T) {
	ctx := context.Background()
	nowNS := time.Unix(2000, 0).UnixNano()

	// Each scenario gets a fresh gallery so minted placeholders and
	// signature updates from one run cannot leak into the next.
	setup := func() (*Resolver, *ExitRegistry, *floor.Arena) {
		gallery := NewMemoryGallery()
		gallery.Upsert(ctx, "alice", unitVec(1), nil)
		r, exits := newTestResolver(gallery)
		return r, exits, floor.NewArena(floor.DefaultArenaConfig())
	}

	// 0.72 alone is below the 0.75 threshold: mints a placeholder.
	r, _, arena := setup()
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(0.72), nil, 10)
	if l := r.Resolve(ctx, tr, nowNS); l == nil || l.Identity == "alice" {
		t.Fatalf("ungated linkage = %+v, want anonymous placeholder", l)
	}

	// With a recent exit by alice, 0.72 + 0.05 boost clears the bar.
	r, exits, arena := setup()
	exits.Record(ExitEvent{Camera: "cam/b", Identity: "alice", WhenNS: nowNS - int64(2*time.Second)})
	tr = trackWithWindow(t, arena, "cam/a", 1, unitVec(0.72), nil, 10)
	if l := r.Resolve(ctx, tr, nowNS); l == nil || l.Identity != "alice" {
		t.Errorf("gated linkage = %+v, want alice", l)
	}

	// An exit outside the gate window carries no boost.
	r, exits, arena = setup()
	exits.Record(ExitEvent{Camera: "cam/b", Identity: "alice", WhenNS: nowNS - int64(20*time.Second)})
	tr = trackWithWindow(t, arena, "cam/a", 1, unitVec(0.72), nil, 10)
	if l := r.Resolve(ctx, tr, nowNS); l == nil || l.Identity == "alice" {
		t.Errorf("expired exit linkage = %+v, want anonymous placeholder", l)
	}
}

func TestResolveWeakWindowKeepsExistingLinkage(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	gallery.Upsert(ctx, "alice", unitVec(1), nil)

	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())

	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(0.82), nil, 10)
	l := r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil || l.Identity != "alice" {
		t.Fatalf("initial linkage = %+v, want alice", l)
	}

	// An occluded stretch pushes the rolling window below the threshold.
	// That is no evidence against the linkage already held: alice stays,
	// and no placeholder is minted.
	tr = trackWithWindow(t, arena, "cam/a", 1, unitVec(0.40), nil, 20)
	l = r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil || l.Identity != "alice" {
		t.Fatalf("linkage after weak window = %+v, want alice kept", l)
	}
	if got := r.Linkage(tr.Key); got == nil || got.Identity != "alice" {
		t.Errorf("stored linkage = %+v, want alice", got)
	}
	if gallery.Size() != 1 {
		t.Errorf("gallery size = %d, want 1 (no placeholder minted)", gallery.Size())
	}

	// A track with no linkage and the same weak window still mints.
	trB := trackWithWindow(t, arena, "cam/b", 2, unitVec(0.40), nil, 10)
	lB := r.Resolve(ctx, trB, time.Now().UnixNano())
	if lB == nil || !isAnonymous(lB.Identity) {
		t.Errorf("unlinked weak track linkage = %+v, want anonymous placeholder", lB)
	}
}

func TestRelinkPurgesAbandonedPlaceholder(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	gallery.Upsert(ctx, "bob", unitVec(0.60), unitVec(1))

	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())

	// No face yet and bob's appearance is only 0.60: a placeholder is
	// minted and enrolled.
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(1), nil, 10)
	l := r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil || !isAnonymous(l.Identity) {
		t.Fatalf("initial linkage = %+v, want anonymous placeholder", l)
	}
	if gallery.Size() != 2 {
		t.Fatalf("gallery size = %d, want 2 (bob + placeholder)", gallery.Size())
	}

	// A later window carries a strong face match: the track relinks to
	// bob and the abandoned placeholder must leave the gallery with it.
	tr = trackWithWindow(t, arena, "cam/a", 1, unitVec(1), unitVec(0.95), 20)
	l = r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil || l.Identity != "bob" || l.Method != floor.LinkFaceOverride {
		t.Fatalf("relinked = %+v, want bob via face_override", l)
	}
	if gallery.Size() != 1 {
		t.Errorf("gallery size after relink = %d, want 1 (placeholder removed)", gallery.Size())
	}
}

type failingGallery struct{}

func (failingGallery) Query(context.Context, []float32, []float32, int) ([]Candidate, error) {
	return nil, errors.New("index down")
}
func (failingGallery) Upsert(context.Context, floor.IdentityID, []float32, []float32) error {
	return errors.New("index down")
}

func TestResolveFailsOpenOnGalleryError(t *testing.T) {
	r, _ := newTestResolver(failingGallery{})
	arena := floor.NewArena(floor.DefaultArenaConfig())
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(1), nil, 10)

	if l := r.Resolve(context.Background(), tr, time.Now().UnixNano()); l != nil {
		t.Errorf("Resolve() = %+v, want nil (fail open, stay anonymous)", l)
	}
}

func TestResolverDueCadence(t *testing.T) {
	r, _ := newTestResolver(NewMemoryGallery())
	wantDue := map[int]bool{9: false, 10: true, 11: false, 29: false, 30: true, 50: true}
	for n, want := range wantDue {
		if got := r.Due(n); got != want {
			t.Errorf("Due(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestReleasePurgesAnonymousPlaceholder(t *testing.T) {
	ctx := context.Background()
	gallery := NewMemoryGallery()
	r, _ := newTestResolver(gallery)
	arena := floor.NewArena(floor.DefaultArenaConfig())

	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(1), nil, 10)
	l := r.Resolve(ctx, tr, time.Now().UnixNano())
	if l == nil || gallery.Size() != 1 {
		t.Fatalf("setup: linkage %+v, gallery size %d", l, gallery.Size())
	}

	r.Release(tr.Key)
	if gallery.Size() != 0 {
		t.Errorf("gallery size after release = %d, want 0", gallery.Size())
	}
	if r.Linkage(tr.Key) != nil {
		t.Error("linkage survived release")
	}
}

func TestRecordExitRequiresLinkage(t *testing.T) {
	r, exits := newTestResolver(NewMemoryGallery())
	arena := floor.NewArena(floor.DefaultArenaConfig())
	tr := trackWithWindow(t, arena, "cam/a", 1, unitVec(1), nil, 3)

	r.RecordExit(tr, time.Now().UnixNano())
	if exits.Len() != 0 {
		t.Errorf("exit recorded for an unresolved track (len=%d)", exits.Len())
	}
}
