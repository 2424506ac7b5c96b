// Package events defines the engine's outbound event types and the
// Redis Streams transport that carries them to persistence, guidance,
// and notification collaborators.
package events

// Event kinds carried on the event stream.
const (
	KindIdentityResolved = "identity_resolved"
	KindRepCounted       = "rep_counted"
	KindFormAlert        = "form_alert"
	KindGuidance         = "guidance"
)

// Event is any outbound engine event.
type Event interface {
	Kind() string
}

// IdentityResolvedEvent announces a track/identity linkage.
type IdentityResolvedEvent struct {
	CameraID     string  `json:"camera_id"`
	LocalTrackID int64   `json:"local_track_id"`
	IdentityID   string  `json:"global_identity_id"`
	Confidence   float64 `json:"confidence"`
	Method       string  `json:"method"`
	TimestampNS  int64   `json:"timestamp_ns"`
}

func (IdentityResolvedEvent) Kind() string { return KindIdentityResolved }

// RepCountedEvent announces a completed rep.
type RepCountedEvent struct {
	EntityID      string `json:"entity_id"`
	SetID         string `json:"set_id"`
	ExerciseLabel string `json:"exercise_label"`
	RepCount      int    `json:"rep_count"`
	TimestampNS   int64  `json:"timestamp_ns"`
}

func (RepCountedEvent) Kind() string { return KindRepCounted }

// FormAlertEvent announces a dispatched form violation.
type FormAlertEvent struct {
	EntityID    string  `json:"entity_id"`
	SetID       string  `json:"set_id"`
	AlertKey    string  `json:"alert_key"`
	Joint       [3]int  `json:"joint"`
	Value       float64 `json:"value"`
	TimestampNS int64   `json:"timestamp_ns"`
}

func (FormAlertEvent) Kind() string { return KindFormAlert }

// GuidanceEvent asks the external coaching collaborator to address an
// entity. Content generation is not the engine's concern.
type GuidanceEvent struct {
	EntityID    string  `json:"entity_id"`
	AlertKey    string  `json:"alert_key"`
	Value       float64 `json:"value"`
	TimestampNS int64   `json:"timestamp_ns"`
}

func (GuidanceEvent) Kind() string { return KindGuidance }
