// Package store provides durable storage for session snapshots and the raw
// event log. Snapshots are checkpointed best-effort from the sync engine and
// read back only on cold start; the event log is append-only and exists for
// analytics, independent of the checkpoint.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a SQLite database. WAL mode allows concurrent reads during
// checkpoint writes; the pool is capped at one connection since SQLite only
// supports a single writer.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema. Safe to
// call repeatedly against the same file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Checkpoint upserts the latest snapshot for a session, bumping the version
// counter and recomputing the integrity checksum. The first write for a
// session also issues its join code.
func (s *Store) Checkpoint(ctx context.Context, sessionID string, snapshot []byte) error {
	checksum := sha256.Sum256(snapshot)
	sum := hex.EncodeToString(checksum[:])

	// Join codes are random; retry the rare collision instead of checking
	// for existence up front.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, join_code, status, snapshot, snapshot_version, checksum, updated_at)
			VALUES (?, ?, 'active', ?, 1, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				snapshot         = excluded.snapshot,
				snapshot_version = sessions.snapshot_version + 1,
				checksum         = excluded.checksum,
				updated_at       = CURRENT_TIMESTAMP
		`, sessionID, newJoinCode(), string(snapshot), sum)
		if err == nil {
			return nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "UNIQUE constraint failed: sessions.join_code") {
			break
		}
	}
	return fmt.Errorf("checkpoint session %s: %w", sessionID, lastErr)
}

// ColdLoad returns the last persisted snapshot for a session, reporting
// whether one exists.
func (s *Store) ColdLoad(ctx context.Context, sessionID string) ([]byte, bool, error) {
	var snapshot sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM sessions WHERE id = ?`, sessionID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cold load session %s: %w", sessionID, err)
	}
	if !snapshot.Valid || snapshot.String == "" {
		return nil, false, nil
	}
	return []byte(snapshot.String), true, nil
}

// AppendEvent records one raw session event in the analytics log.
func (s *Store) AppendEvent(ctx context.Context, sessionID, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, type, payload)
		VALUES (?, ?, ?)
	`, sessionID, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("append event %s for session %s: %w", eventType, sessionID, err)
	}
	return nil
}

// SessionRecord is the durable row for one session.
type SessionRecord struct {
	ID              string
	JoinCode        string
	Status          string
	SnapshotVersion int64
	Checksum        string
}

// LoadRecord returns the session row without its snapshot body.
func (s *Store) LoadRecord(ctx context.Context, sessionID string) (SessionRecord, bool, error) {
	var rec SessionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, join_code, status, snapshot_version, COALESCE(checksum, '')
		FROM sessions WHERE id = ?
	`, sessionID).Scan(&rec.ID, &rec.JoinCode, &rec.Status, &rec.SnapshotVersion, &rec.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("load record %s: %w", sessionID, err)
	}
	return rec, true, nil
}

// EventCount reports how many events the analytics log holds for a session.
func (s *Store) EventCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events for session %s: %w", sessionID, err)
	}
	return n, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// newJoinCode derives a short human-readable code from a fresh UUID.
func newJoinCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}
