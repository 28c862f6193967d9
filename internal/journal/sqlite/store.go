// Package sqlite provides SQLite-backed journal persistence.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfund/openfund/internal/journal"
	"github.com/openfund/openfund/internal/journal/sqlite/migrations"
	"github.com/openfund/openfund/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store persists journal events in SQLite.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens a journal SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, clock: time.Now}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append persists one journal event, assigning its ID and, when unset, its
// timestamp. Append implements journal.Appender.
func (s *Store) Append(event journal.Event) error {
	return s.AppendContext(context.Background(), event)
}

// AppendContext persists one journal event under a context.
func (s *Store) AppendContext(ctx context.Context, event journal.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(string(event.Type)) == "" {
		return fmt.Errorf("event type is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock().UTC()
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO journal_events (id, event_type, actor, occurred_at, payload_json)
VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(),
		string(event.Type),
		event.Actor,
		event.Timestamp.UTC(),
		string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert journal event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first, up to limit.
func (s *Store) List(ctx context.Context, limit int) ([]journal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, event_type, actor, occurred_at, payload_json
FROM journal_events
ORDER BY occurred_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var (
			event       journal.Event
			eventType   string
			payloadJSON string
		)
		if err := rows.Scan(&event.ID, &eventType, &event.Actor, &event.Timestamp, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		event.Type = journal.Type(eventType)
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal events: %w", err)
	}
	return events, nil
}
