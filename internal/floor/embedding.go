package floor

import "math"

// Embedding vector helpers. All gallery comparisons assume vectors are
// L2-normalised; ValidEmbedding rejects corrupt or zero-norm vectors
// before they can disturb track or gallery state.

// minEmbeddingNorm is the smallest norm treated as a real signal. The
// perception service emits zero vectors when its re-ID head is disabled;
// those must never reach the gallery.
const minEmbeddingNorm = 1e-6

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		f := float64(x)
		sum += f * f
	}
	return math.Sqrt(sum)
}

// ValidEmbedding reports whether v has the expected dimension, carries
// no NaN/Inf components, and has a usable norm.
func ValidEmbedding(v []float32, dim int) bool {
	if len(v) != dim {
		return false
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return Norm(v) >= minEmbeddingNorm
}

// Normalize scales v in place to unit L2 norm. Returns false without
// modifying v when the norm is too small to normalise.
func Normalize(v []float32) bool {
	n := Norm(v)
	if n < minEmbeddingNorm {
		return false
	}
	inv := float32(1 / n)
	for i := range v {
		v[i] *= inv
	}
	return true
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// mismatched length or negligible norm score -1 (never match).
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na < minEmbeddingNorm || nb < minEmbeddingNorm {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Representative computes the re-normalised mean of a window of
// embeddings: the stable appearance signature used for gallery queries.
// Returns nil when the window is empty or degenerate.
func Representative(window [][]float32) []float32 {
	if len(window) == 0 {
		return nil
	}
	dim := len(window[0])
	mean := make([]float32, dim)
	count := 0
	for _, v := range window {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			mean[i] += x
		}
		count++
	}
	if count == 0 {
		return nil
	}
	inv := float32(1) / float32(count)
	for i := range mean {
		mean[i] *= inv
	}
	if !Normalize(mean) {
		return nil
	}
	return mean
}
