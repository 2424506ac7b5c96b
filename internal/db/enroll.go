package db

import (
	"context"
	"encoding/json"
	"fmt"
)

// EnrolledIdentity is a known person whose gallery signature survives
// restarts. Embeddings are stored JSON-encoded; they are small (256 and
// 512 floats) and read once at startup.
type EnrolledIdentity struct {
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	Appearance  []float32 `json:"appearance"`
	Face        []float32 `json:"face,omitempty"`
}

// EnrollIdentity inserts or replaces one enrolled identity.
func (db *DB) EnrollIdentity(ctx context.Context, e EnrolledIdentity) error {
	appearance, err := json.Marshal(e.Appearance)
	if err != nil {
		return fmt.Errorf("marshal appearance for %s: %w", e.IdentityID, err)
	}
	var face any
	if e.Face != nil {
		raw, err := json.Marshal(e.Face)
		if err != nil {
			return fmt.Errorf("marshal face for %s: %w", e.IdentityID, err)
		}
		face = string(raw)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO enrolled_identities (identity_id, display_name, appearance, face)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity_id) DO UPDATE SET
			display_name = excluded.display_name,
			appearance   = excluded.appearance,
			face         = excluded.face`,
		e.IdentityID, e.DisplayName, string(appearance), face)
	return err
}

// EnrolledIdentities returns every enrolled identity.
func (db *DB) EnrolledIdentities(ctx context.Context) ([]EnrolledIdentity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT identity_id, display_name, appearance, face
		FROM enrolled_identities ORDER BY identity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnrolledIdentity
	for rows.Next() {
		var e EnrolledIdentity
		var appearance string
		var face *string
		if err := rows.Scan(&e.IdentityID, &e.DisplayName, &appearance, &face); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(appearance), &e.Appearance); err != nil {
			return nil, fmt.Errorf("decode appearance for %s: %w", e.IdentityID, err)
		}
		if face != nil {
			if err := json.Unmarshal([]byte(*face), &e.Face); err != nil {
				return nil, fmt.Errorf("decode face for %s: %w", e.IdentityID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
