// Package history keeps a SQLite log of every verification run so failures can be
// compared across invocations.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/verify"
)

const (
	// DefaultLimit caps List when no limit is given.
	DefaultLimit = 20
	// MaxLimit caps List however large the requested limit.
	MaxLimit = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    script TEXT NOT NULL,
    status TEXT NOT NULL,
    code TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    screenshots TEXT NOT NULL DEFAULT '[]',
    artifacts TEXT NOT NULL DEFAULT '[]',
    page_url TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_script ON runs(script);
`

// Run is one stored run.
type Run struct {
	RunID       string        `json:"run_id"`
	Script      string        `json:"script"`
	Status      verify.Status `json:"status"`
	Code        errs.Code     `json:"code,omitempty"`
	Message     string        `json:"message,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Screenshots []string      `json:"screenshots,omitempty"`
	Artifacts   []string      `json:"artifacts,omitempty"`
	PageURL     string        `json:"page_url,omitempty"`
}

// Filter narrows List.
type Filter struct {
	Limit int
	// ScriptPattern is a Go regular expression matched against script names.
	ScriptPattern string
	FailedOnly    bool
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// one connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements verify.Sink.
func (s *Store) Record(ctx context.Context, res *verify.Result) error {
	screenshots := append([]string(nil), res.Screenshots...)
	if res.ErrorShot != "" {
		screenshots = append(screenshots, res.ErrorShot)
	}
	shotsJSON, err := json.Marshal(nonNil(screenshots))
	if err != nil {
		return err
	}
	artifactsJSON, err := json.Marshal(nonNil(res.Artifacts))
	if err != nil {
		return err
	}
	pageURL := ""
	if res.Diagnostics != nil {
		pageURL = res.Diagnostics.URL
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs (run_id, script, status, code, message, started_at, duration_ms, screenshots, artifacts, page_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
    status = excluded.status,
    code = excluded.code,
    message = excluded.message,
    duration_ms = excluded.duration_ms,
    screenshots = excluded.screenshots,
    artifacts = excluded.artifacts,
    page_url = excluded.page_url`,
		res.RunID, res.Script, string(res.Status), string(res.Code), res.Message,
		res.StartedAt.UnixMilli(), res.Duration.Milliseconds(),
		string(shotsJSON), string(artifactsJSON), pageURL,
	)
	if err != nil {
		return fmt.Errorf("history: record run %s: %w", res.RunID, err)
	}
	return nil
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	query := `SELECT run_id, script, status, code, message, started_at, duration_ms, screenshots, artifacts, page_url FROM runs WHERE 1=1`
	var args []any
	if f.ScriptPattern != "" {
		query += ` AND script REGEXP ?`
		args = append(args, f.ScriptPattern)
	}
	if f.FailedOnly {
		query += ` AND status = ?`
		args = append(args, string(verify.StatusFailed))
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r                      Run
			status, code           string
			startedMS, durationMS  int64
			shotsJSON, artifactsJS string
		)
		if err := rows.Scan(&r.RunID, &r.Script, &status, &code, &r.Message, &startedMS, &durationMS, &shotsJSON, &artifactsJS, &r.PageURL); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.Status = verify.Status(status)
		r.Code = errs.Code(code)
		r.StartedAt = time.UnixMilli(startedMS).UTC()
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(shotsJSON), &r.Screenshots); err != nil {
			return nil, fmt.Errorf("history: decode screenshots for %s: %w", r.RunID, err)
		}
		if err := json.Unmarshal([]byte(artifactsJS), &r.Artifacts); err != nil {
			return nil, fmt.Errorf("history: decode artifacts for %s: %w", r.RunID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return runs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
