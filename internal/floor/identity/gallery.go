// Package identity links per-camera local tracks to cross-camera global
// identities by matching appearance/face embedding windows against a
// gallery, with spatial-temporal exit gating and a face-override rule.
package identity

import (
	"context"
	"sort"
	"sync"

	"github.com/banshee-data/floorsight/internal/floor"
)

// Candidate is one ranked gallery match.
type Candidate struct {
	Identity floor.IdentityID
	// Score is the appearance cosine similarity in [-1, 1].
	Score float64
	// FaceScore is the face cosine similarity, or -1 when either side has
	// no face signature.
	FaceScore float64
}

// Gallery is the similarity index the resolver queries and maintains.
// The engine owns the matching policy (thresholds, overrides, gating);
// the index implementation behind this interface is replaceable.
type Gallery interface {
	// Query ranks identities by appearance similarity to the given
	// embedding, best first, at most limit entries. A face embedding may
	// be supplied to have FaceScore populated on candidates that carry a
	// face signature.
	Query(ctx context.Context, appearance, face []float32, limit int) ([]Candidate, error)

	// Upsert folds a new appearance sample (and optional face sample)
	// into the identity's signature, creating the identity if needed.
	Upsert(ctx context.Context, id floor.IdentityID, appearance, face []float32) error
}

type galleryEntry struct {
	appearance []float32 // running mean, re-normalised
	face       []float32
	samples    int
}

// MemoryGallery is an in-process Gallery backed by a map. Signatures are
// count-weighted running means, re-normalised after every fold.
type MemoryGallery struct {
	mu      sync.RWMutex
	entries map[floor.IdentityID]*galleryEntry
}

// NewMemoryGallery creates an empty in-memory gallery.
func NewMemoryGallery() *MemoryGallery {
	return &MemoryGallery{entries: make(map[floor.IdentityID]*galleryEntry)}
}

// Query implements Gallery.
func (g *MemoryGallery) Query(ctx context.Context, appearance, face []float32, limit int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Candidate, 0, len(g.entries))
	for id, e := range g.entries {
		c := Candidate{
			Identity:  id,
			Score:     floor.Cosine(appearance, e.appearance),
			FaceScore: -1,
		}
		if face != nil && e.face != nil {
			c.FaceScore = floor.Cosine(face, e.face)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Identity < out[j].Identity
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Upsert implements Gallery.
func (g *MemoryGallery) Upsert(ctx context.Context, id floor.IdentityID, appearance, face []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[id]
	if !ok {
		e = &galleryEntry{}
		g.entries[id] = e
	}

	if len(appearance) > 0 {
		if e.appearance == nil || len(e.appearance) != len(appearance) {
			e.appearance = append([]float32(nil), appearance...)
			e.samples = 1
		} else {
			// Count-weighted running mean, re-normalised.
			n := float32(e.samples)
			for i := range e.appearance {
				e.appearance[i] = (e.appearance[i]*n + appearance[i]) / (n + 1)
			}
			e.samples++
			if !floor.Normalize(e.appearance) {
				// Degenerate mean; fall back to the latest sample.
				copy(e.appearance, appearance)
				e.samples = 1
			}
		}
		floor.Normalize(e.appearance)
	}
	if len(face) > 0 {
		e.face = append([]float32(nil), face...)
		floor.Normalize(e.face)
	}
	return nil
}

// Size returns the number of identities in the gallery.
func (g *MemoryGallery) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Remove deletes an identity from the gallery. Used when an anonymous
// placeholder's last linked track is purged.
func (g *MemoryGallery) Remove(id floor.IdentityID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, id)
}
