package identity

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/floorsight/internal/floor"
)

// Resolver defaults. Thresholds are cosine similarities.
const (
	DefaultAppearanceThreshold = 0.75
	DefaultFaceThreshold       = 0.85
	// DefaultFaceSanityFloor is the minimum appearance similarity a face
	// override must also clear. A confident face match on a body that
	// looks nothing like the identity is treated as a detector glitch and
	// left unresolved.
	DefaultFaceSanityFloor  = 0.50
	DefaultAmbiguityEpsilon = 0.05
	DefaultGateBoost        = 0.05
	// DefaultMinObservations is how many accepted observations a track
	// needs before its first resolution attempt.
	DefaultMinObservations = 10
	// DefaultResolveEvery re-runs resolution every this many observations
	// after the first attempt, over the rolling appearance window.
	DefaultResolveEvery    = 20
	DefaultCandidateLimit  = 5
	anonymousPrefix        = "anon:"
	identityStripes        = 64
)

// Config holds resolver tuning.
type Config struct {
	AppearanceThreshold float64
	FaceThreshold       float64
	FaceSanityFloor     float64
	AmbiguityEpsilon    float64
	GateWindow          time.Duration
	GateBoost           float64
	MinObservations     int
	ResolveEvery        int
	CandidateLimit      int
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		AppearanceThreshold: DefaultAppearanceThreshold,
		FaceThreshold:       DefaultFaceThreshold,
		FaceSanityFloor:     DefaultFaceSanityFloor,
		AmbiguityEpsilon:    DefaultAmbiguityEpsilon,
		GateWindow:          DefaultGateWindow,
		GateBoost:           DefaultGateBoost,
		MinObservations:     DefaultMinObservations,
		ResolveEvery:        DefaultResolveEvery,
		CandidateLimit:      DefaultCandidateLimit,
	}
}

// Resolver decides which global identity owns each local track. All
// gallery read+match+write for one identity happens under that
// identity's stripe lock, so two concurrent resolutions can never fold
// conflicting signatures into the same identity.
//
// Gallery failures never block the pipeline: the track simply stays
// anonymous until the next attempt.
type Resolver struct {
	config  Config
	gallery Gallery
	exits   *ExitRegistry

	mu       sync.RWMutex
	linkages map[floor.TrackKey]*floor.Linkage
	// linked tracks per identity, for placeholder garbage collection
	trackRefs map[floor.IdentityID]int

	locks [identityStripes]sync.Mutex

	onResolved []func(floor.Linkage)
}

// NewResolver creates a resolver over the given gallery and exit registry.
func NewResolver(config Config, gallery Gallery, exits *ExitRegistry) *Resolver {
	return &Resolver{
		config:    config,
		gallery:   gallery,
		exits:     exits,
		linkages:  make(map[floor.TrackKey]*floor.Linkage),
		trackRefs: make(map[floor.IdentityID]int),
	}
}

// OnResolved registers a hook invoked whenever a linkage is created or
// replaced.
func (r *Resolver) OnResolved(f func(floor.Linkage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResolved = append(r.onResolved, f)
}

// Linkage returns the active linkage for a track, or nil.
func (r *Resolver) Linkage(key floor.TrackKey) *floor.Linkage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.linkages[key]; ok {
		cp := *l
		return &cp
	}
	return nil
}

// Linkages returns a snapshot of all active linkages.
func (r *Resolver) Linkages() []floor.Linkage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]floor.Linkage, 0, len(r.linkages))
	for _, l := range r.linkages {
		out = append(out, *l)
	}
	return out
}

// Due reports whether a track's observation count has reached a
// resolution trigger: the first at MinObservations, then every
// ResolveEvery observations over the rolling window.
func (r *Resolver) Due(observations int) bool {
	min := r.config.MinObservations
	if min <= 0 {
		min = DefaultMinObservations
	}
	every := r.config.ResolveEvery
	if every <= 0 {
		every = DefaultResolveEvery
	}
	if observations < min {
		return false
	}
	return (observations-min)%every == 0
}

// Resolve attempts to link a track to a global identity from its current
// appearance window. Returns the resulting linkage, or nil when the
// decision was deferred (ambiguity, conflict, degenerate window) or the
// gallery was unavailable.
func (r *Resolver) Resolve(ctx context.Context, t *floor.LocalTrack, nowWallNS int64) *floor.Linkage {
	rep := floor.Representative(t.AppearanceWindow())
	if rep == nil {
		return nil
	}
	face := t.LastFace()
	if face != nil && !floor.ValidEmbedding(face, len(face)) {
		face = nil
	}

	candidates, err := r.gallery.Query(ctx, rep, face, r.config.CandidateLimit)
	if err != nil {
		floor.Opsf("resolver: gallery query failed for %v/%d, staying anonymous: %v",
			t.Key.Camera, t.Key.LocalID, err)
		return nil
	}

	// Spatial-temporal gating: identities that exited any camera within
	// the gate window get a score boost.
	if r.exits != nil && r.config.GateBoost > 0 {
		recent := r.exits.Recent(nowWallNS)
		for i := range candidates {
			if _, ok := recent[candidates[i].Identity]; ok {
				candidates[i].Score += r.config.GateBoost
			}
		}
	}

	decision := r.decide(t, candidates)
	switch decision.kind {
	case decisionDefer:
		floor.Diagf("resolver: %v/%d deferred (%s), retry next window",
			t.Key.Camera, t.Key.LocalID, decision.reason)
		return nil
	case decisionMint:
		// A window too weak to match anyone is no evidence against a
		// linkage we already hold; keep it and retry next window. Minting
		// is only for tracks that are still unlinked.
		r.mu.RLock()
		existing := r.linkages[t.Key]
		r.mu.RUnlock()
		if existing != nil {
			floor.Diagf("resolver: %v/%d window below threshold, keeping %s",
				t.Key.Camera, t.Key.LocalID, existing.Identity)
			cp := *existing
			return &cp
		}
		id := floor.IdentityID(anonymousPrefix + uuid.NewString())
		return r.commit(ctx, t, floor.Linkage{
			Track:      t.Key,
			Identity:   id,
			Confidence: 1,
			Method:     floor.LinkAppearance,
			ResolvedNS: nowWallNS,
		}, rep, face)
	default: // decisionLink
		return r.commit(ctx, t, floor.Linkage{
			Track:      t.Key,
			Identity:   decision.identity,
			Confidence: decision.score,
			Method:     decision.method,
			ResolvedNS: nowWallNS,
		}, rep, face)
	}
}

type decisionKind int

const (
	decisionLink decisionKind = iota
	decisionMint
	decisionDefer
)

type decision struct {
	kind     decisionKind
	identity floor.IdentityID
	score    float64
	method   floor.LinkMethod
	reason   string
}

// decide applies the matching policy to ranked candidates. Candidates
// arrive sorted by (possibly gate-boosted) appearance score.
func (r *Resolver) decide(t *floor.LocalTrack, candidates []Candidate) decision {
	// Face override: a strong face match wins over the appearance
	// ranking, provided the same candidate's appearance at least clears
	// the sanity floor.
	var bestFace *Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.FaceScore >= r.config.FaceThreshold &&
			(bestFace == nil || c.FaceScore > bestFace.FaceScore) {
			bestFace = c
		}
	}
	if bestFace != nil {
		if bestFace.Score < r.config.FaceSanityFloor {
			return decision{kind: decisionDefer, reason: "face/appearance conflict"}
		}
		return decision{
			kind:     decisionLink,
			identity: bestFace.Identity,
			score:    bestFace.FaceScore,
			method:   floor.LinkFaceOverride,
		}
	}

	if len(candidates) == 0 || candidates[0].Score < r.config.AppearanceThreshold {
		return decision{kind: decisionMint}
	}
	if len(candidates) > 1 &&
		candidates[0].Score-candidates[1].Score < r.config.AmbiguityEpsilon {
		return decision{kind: decisionDefer, reason: "ambiguous top candidates"}
	}
	return decision{
		kind:     decisionLink,
		identity: candidates[0].Identity,
		score:    candidates[0].Score,
		method:   floor.LinkAppearance,
	}
}

// commit serialises the gallery write under the identity's stripe lock,
// records the linkage, and fires resolution hooks. An existing linkage
// to a different identity is replaced, never duplicated.
func (r *Resolver) commit(ctx context.Context, t *floor.LocalTrack, l floor.Linkage, rep, face []float32) *floor.Linkage {
	stripe := stripeFor(l.Identity)
	r.locks[stripe].Lock()
	err := r.gallery.Upsert(ctx, l.Identity, rep, face)
	r.locks[stripe].Unlock()
	if err != nil {
		floor.Opsf("resolver: gallery upsert failed for %s: %v", l.Identity, err)
		return nil
	}

	r.mu.Lock()
	prev := r.linkages[t.Key]
	if prev != nil && prev.Identity == l.Identity {
		// Refresh confidence/method in place; not a new resolution.
		prev.Confidence = l.Confidence
		prev.Method = l.Method
		prev.ResolvedNS = l.ResolvedNS
		r.mu.Unlock()
		return prev
	}
	var orphan floor.IdentityID
	if prev != nil {
		if r.releaseRefLocked(prev.Identity) && isAnonymous(prev.Identity) {
			orphan = prev.Identity
		}
		floor.Diagf("resolver: %v/%d relinked %s -> %s (%s %.3f)",
			t.Key.Camera, t.Key.LocalID, prev.Identity, l.Identity, l.Method, l.Confidence)
	} else {
		floor.Diagf("resolver: %v/%d linked to %s (%s %.3f)",
			t.Key.Camera, t.Key.LocalID, l.Identity, l.Method, l.Confidence)
	}
	stored := l
	r.linkages[t.Key] = &stored
	r.trackRefs[l.Identity]++
	hooks := r.onResolved
	r.mu.Unlock()

	// An abandoned placeholder with no other linked tracks leaves the
	// gallery, exactly as on purge: it must not attract future matches.
	if orphan != "" {
		if g, ok := r.gallery.(*MemoryGallery); ok {
			g.Remove(orphan)
		}
	}

	for _, f := range hooks {
		f(l)
	}
	return &stored
}

// RecordExit notes a closed track's identity and last position in the
// exit registry for gating. Tracks that never resolved leave no trace.
func (r *Resolver) RecordExit(t *floor.LocalTrack, nowWallNS int64) {
	if r.exits == nil {
		return
	}
	r.mu.RLock()
	l := r.linkages[t.Key]
	r.mu.RUnlock()
	if l == nil {
		return
	}
	r.exits.Record(ExitEvent{
		Camera:   t.Key.Camera,
		Identity: l.Identity,
		CenterX:  t.LastCenterX,
		CenterY:  t.LastCenterY,
		WhenNS:   nowWallNS,
	})
}

// Release revokes a purged track's linkage. Anonymous placeholders with
// no remaining linked tracks are removed from the gallery: they are
// scoped to current floor presence only.
func (r *Resolver) Release(key floor.TrackKey) {
	r.mu.Lock()
	l := r.linkages[key]
	if l == nil {
		r.mu.Unlock()
		return
	}
	delete(r.linkages, key)
	orphaned := r.releaseRefLocked(l.Identity)
	r.mu.Unlock()

	if orphaned && isAnonymous(l.Identity) {
		if g, ok := r.gallery.(*MemoryGallery); ok {
			g.Remove(l.Identity)
		}
	}
}

// releaseRefLocked decrements an identity's linked-track count and
// reports whether it reached zero. Caller holds r.mu.
func (r *Resolver) releaseRefLocked(id floor.IdentityID) bool {
	r.trackRefs[id]--
	if r.trackRefs[id] <= 0 {
		delete(r.trackRefs, id)
		return true
	}
	return false
}

func isAnonymous(id floor.IdentityID) bool {
	return len(id) > len(anonymousPrefix) && id[:len(anonymousPrefix)] == anonymousPrefix
}

func stripeFor(id floor.IdentityID) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % identityStripes)
}
