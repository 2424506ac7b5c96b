package exercise

import "sort"

// Smoother is a bounded window of the latest valid angle samples for one
// joint. The median of the window is the authoritative signal: it
// removes frame-level jitter before any threshold sees the value.
type Smoother struct {
	window  []float64
	scratch []float64
	cap     int
}

// NewSmoother creates a median smoother with the given window capacity.
func NewSmoother(capacity int) *Smoother {
	if capacity <= 0 {
		capacity = DefaultSmoothingWindow
	}
	return &Smoother{
		window:  make([]float64, 0, capacity),
		scratch: make([]float64, 0, capacity),
		cap:     capacity,
	}
}

// Push adds a valid sample and returns the current median.
func (s *Smoother) Push(v float64) float64 {
	if len(s.window) == s.cap {
		copy(s.window, s.window[1:])
		s.window[len(s.window)-1] = v
	} else {
		s.window = append(s.window, v)
	}
	return s.Median()
}

// Median returns the median of the current window, or 0 for an empty
// window. Even-length windows average the two middle samples.
func (s *Smoother) Median() float64 {
	n := len(s.window)
	if n == 0 {
		return 0
	}
	s.scratch = append(s.scratch[:0], s.window...)
	sort.Float64s(s.scratch)
	if n%2 == 1 {
		return s.scratch[n/2]
	}
	return (s.scratch[n/2-1] + s.scratch[n/2]) / 2
}

// Len returns the number of samples currently held.
func (s *Smoother) Len() int { return len(s.window) }

// Reset discards all samples.
func (s *Smoother) Reset() { s.window = s.window[:0] }
