// Package storage persists execution artifacts in SQLite, keyed by
// opaque handles, with a TTL so abandoned outputs age out.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const handleAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	filename   TEXT NOT NULL,
	size       INTEGER NOT NULL,
	content    BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_expiry ON artifacts(expires_at);
`

// Artifact is one stored execution output.
type Artifact struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Content   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the SQLite-backed artifact store.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// Open opens (or creates) the store at path with the given artifact TTL.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}

	log.Info().Str("path", path).Dur("ttl", ttl).Msg("Artifact store opened")
	return &Store{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores one artifact and returns its handle.
func (s *Store) Put(ctx context.Context, sessionID, filename string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", ErrEmptyContent
	}

	id, err := nanoid.Generate(handleAlphabet, 21)
	if err != nil {
		return "", fmt.Errorf("storage: generate handle: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, session_id, filename, size, content, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, filename, int64(len(content)), content, now, now.Add(s.ttl))
	if err != nil {
		return "", fmt.Errorf("storage: store artifact: %w", err)
	}
	return id, nil
}

// Get returns one artifact by handle. Expired artifacts are reported as
// missing even before the reaper removes the row.
func (s *Store) Get(ctx context.Context, id string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, filename, size, content, created_at, expires_at
		 FROM artifacts WHERE id = ? AND expires_at > ?`,
		id, time.Now().UTC())

	var a Artifact
	err := row.Scan(&a.ID, &a.SessionID, &a.Filename, &a.Size, &a.Content, &a.CreatedAt, &a.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load artifact: %w", err)
	}
	return &a, nil
}

// ListSession returns metadata for a session's unexpired artifacts,
// newest first. Content is not loaded.
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, filename, size, created_at, expires_at
		 FROM artifacts WHERE session_id = ? AND expires_at > ?
		 ORDER BY created_at DESC`,
		sessionID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("storage: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Filename, &a.Size, &a.CreatedAt, &a.ExpiresAt); err != nil {
			return nil, fmt.Errorf("storage: scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteExpired removes every artifact past its TTL and reports the count.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("count", n).Msg("Expired artifacts removed")
	}
	return n, nil
}

// DeleteSession removes every artifact belonging to one session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("storage: delete session artifacts: %w", err)
	}
	return nil
}
