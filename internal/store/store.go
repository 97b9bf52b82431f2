// Package store persists events, alerts, track summaries and recording
// requests in SQLite. The schema is managed by embedded golang-migrate
// migrations applied on open.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/perimeter.watch/internal/alert"
	"github.com/banshee-data/perimeter.watch/internal/analytics"
	"github.com/banshee-data/perimeter.watch/internal/monitoring"
	"github.com/banshee-data/perimeter.watch/internal/track"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// Serialized writes; the frame loops and dispatch workers share
	// this handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m: that would close the shared DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// InsertEvent persists one derived event.
func (s *Store) InsertEvent(ev analytics.Event) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO events (event_id, event_type, camera_id, track_id, class_name, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.CameraID, ev.TrackID, ev.Class, ev.Timestamp, string(metadata))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first, optionally
// filtered by camera.
func (s *Store) RecentEvents(cameraID string, limit int) ([]analytics.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, event_type, camera_id, track_id, class_name, timestamp, metadata
		FROM events`
	args := []any{}
	if cameraID != "" {
		query += ` WHERE camera_id = ?`
		args = append(args, cameraID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []analytics.Event
	for rows.Next() {
		var ev analytics.Event
		var metadata sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.CameraID, &ev.TrackID, &ev.Class, &ev.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				monitoring.Logf("event %s has unreadable metadata: %v", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveAlert inserts or replaces an alert row with its current status
// and outcome audit trail.
func (s *Store) SaveAlert(a alert.Alert) error {
	context, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("encode alert context: %w", err)
	}
	outcomes, err := json.Marshal(a.Outcomes)
	if err != nil {
		return fmt.Errorf("encode alert outcomes: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO alerts (alert_id, rule_id, rule_name, event_id, event_type, camera_id, track_id,
			status, created_at, context, outcomes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (alert_id) DO UPDATE SET status = excluded.status, outcomes = excluded.outcomes`,
		a.ID, a.RuleID, a.RuleName, a.EventID, a.EventType, a.CameraID, a.TrackID,
		a.Status, a.CreatedAt, string(context), string(outcomes))
	if err != nil {
		return fmt.Errorf("save alert %s: %w", a.ID, err)
	}
	return nil
}

// GetAlert fetches one alert by ID.
func (s *Store) GetAlert(id string) (alert.Alert, error) {
	row := s.db.QueryRow(`
		SELECT alert_id, rule_id, rule_name, event_id, event_type, camera_id, track_id,
			status, created_at, context, outcomes
		FROM alerts WHERE alert_id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return alert.Alert{}, ErrNotFound
	}
	return a, err
}

// RecentAlerts returns up to limit alerts, newest first, optionally
// filtered by status.
func (s *Store) RecentAlerts(status alert.Status, limit int) ([]alert.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT alert_id, rule_id, rule_name, event_id, event_type, camera_id, track_id,
			status, created_at, context, outcomes
		FROM alerts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (alert.Alert, error) {
	var a alert.Alert
	var context, outcomes sql.NullString
	err := row.Scan(&a.ID, &a.RuleID, &a.RuleName, &a.EventID, &a.EventType, &a.CameraID,
		&a.TrackID, &a.Status, &a.CreatedAt, &context, &outcomes)
	if err != nil {
		return alert.Alert{}, err
	}
	if context.Valid && context.String != "" {
		if err := json.Unmarshal([]byte(context.String), &a.Context); err != nil {
			monitoring.Logf("alert %s has unreadable context: %v", a.ID, err)
		}
	}
	if outcomes.Valid && outcomes.String != "" {
		if err := json.Unmarshal([]byte(outcomes.String), &a.Outcomes); err != nil {
			monitoring.Logf("alert %s has unreadable outcomes: %v", a.ID, err)
		}
	}
	return a, nil
}

// AcknowledgeAlert marks a dispatched or failed alert as acknowledged.
// Returns ErrNotFound for unknown IDs and an error for alerts still
// pending delivery.
func (s *Store) AcknowledgeAlert(id string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE alerts SET status = ?, acknowledged_at = ?
		WHERE alert_id = ? AND status IN (?, ?)`,
		alert.StatusAcknowledged, at, id, alert.StatusDispatched, alert.StatusFailed)
	if err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetAlert(id); err != nil {
			return err
		}
		return fmt.Errorf("alert %s cannot be acknowledged in its current status", id)
	}
	return nil
}

// UpsertTrack records the latest summary of a confirmed track.
func (s *Store) UpsertTrack(t track.Track) error {
	_, err := s.db.Exec(`
		INSERT INTO tracks (camera_id, track_id, class_name, confidence, state, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (camera_id, track_id) DO UPDATE SET
			class_name = excluded.class_name,
			confidence = excluded.confidence,
			state = excluded.state,
			last_seen = excluded.last_seen`,
		t.CameraID, t.ID, t.Class, t.Confidence, t.State, t.FirstSeen, t.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert track %d: %w", t.ID, err)
	}
	return nil
}

// SaveRecording persists a recording request. Implements
// alert.RecordSink.
func (s *Store) SaveRecording(cameraID, alertID string, at time.Time, duration time.Duration) error {
	_, err := s.db.Exec(`
		INSERT INTO recordings (camera_id, alert_id, requested_at, duration_ms)
		VALUES (?, ?, ?, ?)`,
		cameraID, alertID, at, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("save recording request for alert %s: %w", alertID, err)
	}
	return nil
}

// RecordingCount returns the number of recording requests for a camera.
func (s *Store) RecordingCount(cameraID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM recordings WHERE camera_id = ?`, cameraID).Scan(&n)
	return n, err
}
