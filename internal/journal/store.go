package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const runColumns = "id, device, backend, driver, input_format, streams, status, started_at, finished_at, frames_queued, frames_completed, error_message"

const frameColumns = "id, run_id, source, stream, status, sequence, latency_us, output_path, created_at"

// Store manages journal persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or connects to the journal database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun inserts run in the running state. An empty ID is replaced by a
// new UUID; the stored run is returned.
func (s *Store) StartRun(ctx context.Context, run Run) (*Run, error) {
	if strings.TrimSpace(run.ID) == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	run.Status = RunRunning

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
            id, device, backend, driver, input_format, streams, status, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Device,
		run.Backend,
		nullableString(run.Driver),
		run.InputFormat,
		run.Streams,
		string(run.Status),
		formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, run.ID)
}

// SetDriver records the driver reported by the converter once it is known.
func (s *Store) SetDriver(ctx context.Context, runID, driver string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE runs SET driver = ? WHERE id = ?", nullableString(driver), runID); err != nil {
		return fmt.Errorf("update run driver: %w", err)
	}
	return nil
}

// RecordFrame appends a completed output buffer to a run.
func (s *Store) RecordFrame(ctx context.Context, frame Frame) error {
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO frames (
            run_id, source, stream, status, sequence, latency_us, output_path, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		frame.RunID,
		frame.Source,
		frame.Stream,
		frame.Status,
		int64(frame.Sequence),
		frame.Latency.Microseconds(),
		nullableString(frame.OutputPath),
		formatTime(frame.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, outcome Outcome) error {
	if !outcome.Status.IsFinal() {
		return fmt.Errorf("finish run %s: status %q is not final", runID, outcome.Status)
	}
	var message any
	if outcome.Err != nil {
		message = outcome.Err.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, frames_queued = ?, frames_completed = ?, error_message = ?
        WHERE id = ?`,
		string(outcome.Status),
		formatTime(s.now()),
		outcome.FramesQueued,
		outcome.FramesCompleted,
		message,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: not found", runID)
	}
	return nil
}

// GetRun fetches a run by identifier, nil when missing.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Frames returns the frames of a run in insertion order.
func (s *Store) Frames(ctx context.Context, runID string) ([]Frame, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+frameColumns+` FROM frames WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		frame, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}

// Prune deletes finished runs that started before cutoff, with their frames.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE status != ? AND started_at < ?",
		string(RunRunning),
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
