// Package runstore persists run lifecycle state in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"settlecam/internal/config"
)

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// ErrRunNotFound indicates no run exists with the requested ID.
var ErrRunNotFound = errors.New("run not found")

// ErrInvalidTransition indicates a state change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid run transition")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	timeLayout = time.RFC3339Nano
)

// Open initializes or connects to the run database under the base directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.BaseDir, "runs.db"))
}

// OpenPath connects to the run database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// NewRun inserts a run in the preflight state and returns it.
func (s *Store) NewRun(ctx context.Context, mode string) (*Run, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.NewString(),
		Status:    StatusPreflight,
		Mode:      mode,
		StartedAt: now,
		UpdatedAt: now,
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, status, mode, started_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Mode, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE r.id = ? GROUP BY r.id`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ActiveRun returns the most recent non-terminal run, or nil when idle.
func (s *Store) ActiveRun(ctx context.Context) (*Run, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		selectRun+` WHERE r.status NOT IN (?, ?, ?) GROUP BY r.id ORDER BY r.started_at DESC LIMIT 1`,
		string(StatusCompleted), string(StatusFailed), string(StatusAborted))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		selectRun+` GROUP BY r.id ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Transition advances a run to the next lifecycle state. The current state is
// checked inside the update so concurrent writers cannot skip states.
func (s *Store) Transition(ctx context.Context, id string, from, to Status) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(timeLayout)
	var finished any
	if to.Terminal() {
		finished = now
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, updated_at = ?, finished_at = COALESCE(?, finished_at) WHERE id = ? AND status = ?`,
		string(to), now, finished, id, string(from))
	if err != nil {
		return fmt.Errorf("transition run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition run: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetRun(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: run %s is %s, not %s", ErrInvalidTransition, id, current.Status, from)
	}
	return nil
}

// MarkFailed moves a run to the failed state with an error message. Terminal
// runs are left untouched.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	return s.finish(ctx, id, StatusFailed, message)
}

// MarkAborted moves a run to the aborted state.
func (s *Store) MarkAborted(ctx context.Context, id string) error {
	return s.finish(ctx, id, StatusAborted, AbortReason)
}

func (s *Store) finish(ctx context.Context, id string, status Status, message string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, error_message = ?, updated_at = ?, finished_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(status), message, now, now,
		id, string(StatusCompleted), string(StatusFailed), string(StatusAborted))
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetRun(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// SetVideoPath records the finalized recording location.
func (s *Store) SetVideoPath(ctx context.Context, id, path string) error {
	return s.updateField(ctx, id, "video_path", path)
}

// SetResult records the published result payload.
func (s *Store) SetResult(ctx context.Context, id, resultJSON string) error {
	return s.updateField(ctx, id, "result_json", resultJSON)
}

func (s *Store) updateField(ctx context.Context, id, column, value string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET `+column+` = ?, updated_at = ? WHERE id = ?`, value, now, id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: %w", column, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Touch refreshes a run's updated_at as a liveness heartbeat.
func (s *Store) Touch(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.execWithRetry(ctx,
		`UPDATE runs SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("touch run: %w", err)
	}
	return nil
}

// AddWarning attaches a non-fatal alert to a run.
func (s *Store) AddWarning(ctx context.Context, id, message string) error {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO run_events (run_id, kind, message, created_at) VALUES (?, ?, ?, ?)`,
		id, EventWarning, message, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

// Events returns a run's events oldest first.
func (s *Store) Events(ctx context.Context, id string) ([]Event, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, kind, message, created_at FROM run_events WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			created string
		)
		if err := rows.Scan(&event.ID, &event.RunID, &event.Kind, &event.Message, &created); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		event.CreatedAt, _ = time.Parse(timeLayout, created)
		events = append(events, event)
	}
	return events, rows.Err()
}

// Summarize aggregates run counts across the lifecycle.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize runs: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, fmt.Errorf("scan run summary: %w", err)
		}
		summary.Total += count
		switch Status(status) {
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		case StatusAborted:
			summary.Aborted += count
		default:
			summary.Active += count
		}
	}
	return summary, rows.Err()
}

const selectRun = `
SELECT r.id, r.status, r.mode, r.started_at, r.updated_at, r.finished_at,
       r.video_path, r.result_json, r.error_message,
       COUNT(e.id)
FROM runs r
LEFT JOIN run_events e ON e.run_id = r.id AND e.kind = 'warning'`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run      Run
		status   string
		started  string
		updated  string
		finished sql.NullString
	)
	err := row.Scan(&run.ID, &status, &run.Mode, &started, &updated, &finished,
		&run.VideoPath, &run.ResultJSON, &run.ErrorMessage, &run.WarningCount)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.StartedAt, _ = time.Parse(timeLayout, started)
	run.UpdatedAt, _ = time.Parse(timeLayout, updated)
	if finished.Valid && finished.String != "" {
		t, parseErr := time.Parse(timeLayout, finished.String)
		if parseErr == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}
