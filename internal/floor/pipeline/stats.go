package pipeline

import (
	"sync"

	"github.com/banshee-data/floorsight/internal/floor"
)

// CameraStats counts one camera's intake health.
type CameraStats struct {
	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"` // overflow, oldest-first
	Invalid   uint64 `json:"invalid"` // corrupt keypoints/embeddings
}

// Stats aggregates pipeline counters across cameras.
type Stats struct {
	mu      sync.Mutex
	cameras map[floor.CameraID]*CameraStats

	RepsCounted     uint64 `json:"reps_counted"`
	FormAlerts      uint64 `json:"form_alerts"`
	GuidanceSent    uint64 `json:"guidance_sent"`
	GuidanceDropped uint64 `json:"guidance_dropped"`
	PublishFailures uint64 `json:"publish_failures"`
}

func newStats() *Stats {
	return &Stats{cameras: make(map[floor.CameraID]*CameraStats)}
}

func (s *Stats) camera(id floor.CameraID) *CameraStats {
	c, ok := s.cameras[id]
	if !ok {
		c = &CameraStats{}
		s.cameras[id] = c
	}
	return c
}

func (s *Stats) addReceived(id floor.CameraID) {
	s.mu.Lock()
	s.camera(id).Received++
	s.mu.Unlock()
}

func (s *Stats) addProcessed(id floor.CameraID) {
	s.mu.Lock()
	s.camera(id).Processed++
	s.mu.Unlock()
}

func (s *Stats) addDropped(id floor.CameraID) {
	s.mu.Lock()
	s.camera(id).Dropped++
	s.mu.Unlock()
}

func (s *Stats) addInvalid(id floor.CameraID) {
	s.mu.Lock()
	s.camera(id).Invalid++
	s.mu.Unlock()
}

func (s *Stats) add(counter *uint64) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

// StatsSnapshot is a point-in-time copy for the API.
type StatsSnapshot struct {
	Cameras         map[floor.CameraID]CameraStats `json:"cameras"`
	RepsCounted     uint64                         `json:"reps_counted"`
	FormAlerts      uint64                         `json:"form_alerts"`
	GuidanceSent    uint64                         `json:"guidance_sent"`
	GuidanceDropped uint64                         `json:"guidance_dropped"`
	PublishFailures uint64                         `json:"publish_failures"`
}

// Snapshot copies all counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := StatsSnapshot{
		Cameras:         make(map[floor.CameraID]CameraStats, len(s.cameras)),
		RepsCounted:     s.RepsCounted,
		FormAlerts:      s.FormAlerts,
		GuidanceSent:    s.GuidanceSent,
		GuidanceDropped: s.GuidanceDropped,
		PublishFailures: s.PublishFailures,
	}
	for id, c := range s.cameras {
		out.Cameras[id] = *c
	}
	return out
}
