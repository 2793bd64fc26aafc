package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	state      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
`

// SQLiteStore is a Store backed by an embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the sqlite database at path.
// ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the job with the given id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, state, updated_at FROM jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.UserID, &job.State, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
		job.UpdatedAt = t
	}
	return job, nil
}

// Put inserts or replaces a job record.
func (s *SQLiteStore) Put(ctx context.Context, job Job) error {
	if !job.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, job.State)
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, user_id, state, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id,
		 state=excluded.state, updated_at=excluded.updated_at`,
		job.ID, job.UserID, string(job.State), job.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// SetState transitions an existing job and returns the updated record.
func (s *SQLiteStore) SetState(ctx context.Context, id string, state State) (Job, error) {
	if !state.Valid() {
		return Job{}, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), now.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return Job{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Job{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
