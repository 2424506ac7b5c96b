// Package db persists engine events (identity links, rep counts, form
// alerts, guidance dispatches) to SQLite and serves the admin debug
// surface.
package db

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/floorsight/internal/events"
	"github.com/banshee-data/floorsight/internal/monitoring"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the SQLite database at path. Schema is
// managed by migrations; see MigrateUp.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps modernc/sqlite happy under concurrency.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return &DB{db}, nil
}

// RecordIdentityLink persists one identity resolution.
func (db *DB) RecordIdentityLink(ev events.IdentityResolvedEvent) error {
	_, err := db.Exec(`
		INSERT INTO identity_links (camera_id, local_track_id, identity_id, confidence, method, resolved_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.CameraID, ev.LocalTrackID, ev.IdentityID, ev.Confidence, ev.Method, ev.TimestampNS)
	return err
}

// RecordRepEvent persists one completed rep.
func (db *DB) RecordRepEvent(ev events.RepCountedEvent) error {
	_, err := db.Exec(`
		INSERT INTO rep_events (entity_id, set_id, exercise_label, rep_count, timestamp_ns)
		VALUES (?, ?, ?, ?, ?)`,
		ev.EntityID, ev.SetID, ev.ExerciseLabel, ev.RepCount, ev.TimestampNS)
	return err
}

// RecordFormAlert persists one dispatched form alert.
func (db *DB) RecordFormAlert(ev events.FormAlertEvent) error {
	joint, err := json.Marshal(ev.Joint)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO form_alerts (entity_id, set_id, alert_key, joint, value, timestamp_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EntityID, ev.SetID, ev.AlertKey, string(joint), ev.Value, ev.TimestampNS)
	return err
}

// RecordGuidance persists one guidance dispatch decision.
func (db *DB) RecordGuidance(ev events.GuidanceEvent) error {
	_, err := db.Exec(`
		INSERT INTO guidance_events (entity_id, alert_key, value, timestamp_ns)
		VALUES (?, ?, ?, ?)`,
		ev.EntityID, ev.AlertKey, ev.Value, ev.TimestampNS)
	return err
}

// IdentityLink is a persisted resolution row.
type IdentityLink struct {
	CameraID     string  `json:"camera_id"`
	LocalTrackID int64   `json:"local_track_id"`
	IdentityID   string  `json:"identity_id"`
	Confidence   float64 `json:"confidence"`
	Method       string  `json:"method"`
	ResolvedNS   int64   `json:"resolved_ns"`
}

// RecentIdentityLinks returns the latest resolutions, newest first.
func (db *DB) RecentIdentityLinks(ctx context.Context, limit int) ([]IdentityLink, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT camera_id, local_track_id, identity_id, confidence, method, resolved_ns
		FROM identity_links ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IdentityLink
	for rows.Next() {
		var l IdentityLink
		if err := rows.Scan(&l.CameraID, &l.LocalTrackID, &l.IdentityID,
			&l.Confidence, &l.Method, &l.ResolvedNS); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetSummary aggregates one exercise set from its rep events.
type SetSummary struct {
	SetID         string `json:"set_id"`
	EntityID      string `json:"entity_id"`
	ExerciseLabel string `json:"exercise_label"`
	Reps          int    `json:"reps"`
	StartedNS     int64  `json:"started_ns"`
	LastRepNS     int64  `json:"last_rep_ns"`
}

// RecentSets returns per-set summaries, most recently active first.
func (db *DB) RecentSets(ctx context.Context, limit int) ([]SetSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT set_id, entity_id, exercise_label,
		       MAX(rep_count), MIN(timestamp_ns), MAX(timestamp_ns)
		FROM rep_events
		GROUP BY set_id, entity_id, exercise_label
		ORDER BY MAX(timestamp_ns) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SetSummary
	for rows.Next() {
		var s SetSummary
		if err := rows.Scan(&s.SetID, &s.EntityID, &s.ExerciseLabel,
			&s.Reps, &s.StartedNS, &s.LastRepNS); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FormAlertRow is a persisted form alert.
type FormAlertRow struct {
	EntityID    string  `json:"entity_id"`
	SetID       string  `json:"set_id"`
	AlertKey    string  `json:"alert_key"`
	Joint       string  `json:"joint"`
	Value       float64 `json:"value"`
	TimestampNS int64   `json:"timestamp_ns"`
}

// RecentFormAlerts returns the latest alerts, newest first.
func (db *DB) RecentFormAlerts(ctx context.Context, limit int) ([]FormAlertRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT entity_id, set_id, alert_key, joint, value, timestamp_ns
		FROM form_alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FormAlertRow
	for rows.Next() {
		var a FormAlertRow
		if err := rows.Scan(&a.EntityID, &a.SetID, &a.AlertKey,
			&a.Joint, &a.Value, &a.TimestampNS); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts the tsweb debug surface: live SQL via
// tailSQL and an on-demand gzip backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://floorsight.db", db.DB, &tailsql.DBOptions{
		Label: "Floorsight DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
