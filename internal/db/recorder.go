package db

import (
	"context"

	"github.com/banshee-data/floorsight/internal/events"
)

// Recorder adapts the database to the events.Publisher interface so
// engine events can fan out to both Redis and SQLite.
type Recorder struct {
	db *DB
}

// NewRecorder creates a persisting publisher over db.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// Publish implements events.Publisher.
func (r *Recorder) Publish(_ context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.IdentityResolvedEvent:
		return r.db.RecordIdentityLink(e)
	case events.RepCountedEvent:
		return r.db.RecordRepEvent(e)
	case events.FormAlertEvent:
		return r.db.RecordFormAlert(e)
	case events.GuidanceEvent:
		return r.db.RecordGuidance(e)
	default:
		return nil // unknown kinds are not persisted
	}
}
