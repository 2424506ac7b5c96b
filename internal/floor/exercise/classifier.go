package exercise

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/floorsight/internal/floor"
)

// UnknownLabel is returned when no exercise clears the variance floor.
const UnknownLabel = "unknown"

// minClassifySamples is the shortest joint history the classifier will
// score; shorter histories contribute nothing.
const minClassifySamples = 10

// Classifier is the heuristic exercise recogniser. Over the rolling
// angle history it measures per-joint movement (standard deviation of
// the angle, degrees) and picks the definition whose signature joints
// move most. Confidence is the matched signature's share of the total
// movement across all tracked joints.
type Classifier struct {
	defs           []Definition
	varianceFloor  float64
	lowerBodyRange float64
}

// NewClassifier creates a classifier over the given definitions.
// varianceFloor and lowerBodyRange fall back to package defaults when
// non-positive.
func NewClassifier(defs []Definition, varianceFloor, lowerBodyRange float64) *Classifier {
	if varianceFloor <= 0 {
		varianceFloor = DefaultVarianceFloor
	}
	if lowerBodyRange <= 0 {
		lowerBodyRange = DefaultLowerBodyRange
	}
	return &Classifier{defs: defs, varianceFloor: varianceFloor, lowerBodyRange: lowerBodyRange}
}

// Triples returns every distinct joint triple any definition's signature
// references; the engine keeps an angle history per entry.
func (c *Classifier) Triples() []floor.JointTriple {
	seen := make(map[floor.JointTriple]bool)
	var out []floor.JointTriple
	for i := range c.defs {
		for _, tr := range c.defs[i].Signature() {
			if !seen[tr] {
				seen[tr] = true
				out = append(out, tr)
			}
		}
	}
	return out
}

// Classify scores the angle histories (keyed by joint triple) against
// each definition and returns (label, confidence). Histories too short
// to score, or total movement below the variance floor, yield
// ("unknown", 0).
func (c *Classifier) Classify(histories map[floor.JointTriple][]float64) (string, float64) {
	spread := make(map[floor.JointTriple]float64, len(histories))
	var total float64
	for tr, h := range histories {
		if len(h) < minClassifySamples {
			continue
		}
		sd := stat.StdDev(h, nil)
		spread[tr] = sd
		total += sd
	}
	if total <= 0 {
		return UnknownLabel, 0
	}

	best, bestLower := -1, -1
	var bestScore, bestLowerScore float64
	for i := range c.defs {
		score := c.score(&c.defs[i], spread)
		if score > bestScore {
			best, bestScore = i, score
		}
		if c.defs[i].LowerBody && score > bestLowerScore {
			bestLower, bestLowerScore = i, score
		}
	}
	if best < 0 || bestScore < c.varianceFloor {
		return UnknownLabel, 0
	}

	// Arm-exercise disambiguation: big lower-body excursions mean the
	// person is squatting/lunging even if an elbow signature also moves
	// (arms swing during squats).
	if !c.defs[best].LowerBody && bestLower >= 0 && c.lowerBodyMoving(histories) {
		if bestLowerScore >= c.varianceFloor {
			best, bestScore = bestLower, bestLowerScore
		} else {
			return UnknownLabel, 0
		}
	}

	return c.defs[best].Label, bestScore / total
}

// score averages the movement of a definition's signature joints.
func (c *Classifier) score(d *Definition, spread map[floor.JointTriple]float64) float64 {
	var sum float64
	n := 0
	for _, tr := range d.Signature() {
		if sd, ok := spread[tr]; ok {
			sum += sd
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// lowerBodyMoving reports whether any lower-body signature joint swept a
// range wider than the disambiguation threshold.
func (c *Classifier) lowerBodyMoving(histories map[floor.JointTriple][]float64) bool {
	for i := range c.defs {
		if !c.defs[i].LowerBody {
			continue
		}
		for _, tr := range c.defs[i].Signature() {
			h := histories[tr]
			if len(h) < minClassifySamples {
				continue
			}
			lo, hi := h[0], h[0]
			for _, v := range h[1:] {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			if hi-lo > c.lowerBodyRange {
				return true
			}
		}
	}
	return false
}
