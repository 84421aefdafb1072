package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	clock := &stepClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
	store.now = clock.Now
	ctx := context.Background()

	run, err := store.StartRun(ctx, Run{Device: "/dev/video0", Backend: "soft", InputFormat: "640x480-RGB3", Streams: 2})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.ID == "" || run.Status != RunRunning {
		t.Fatalf("unexpected run %#v", run)
	}
	if run.Duration() != 0 {
		t.Fatalf("running run has duration %s", run.Duration())
	}
	if err := store.SetDriver(ctx, run.ID, "m2mconv-soft"); err != nil {
		t.Fatalf("SetDriver failed: %v", err)
	}

	frames := []Frame{
		{RunID: run.ID, Source: "a.png", Stream: 0, Status: "success", Sequence: 0, Latency: 1500 * time.Microsecond, OutputPath: "/out/a-s0.png"},
		{RunID: run.ID, Source: "a.png", Stream: 1, Status: "error", Sequence: 0, Latency: 1500 * time.Microsecond},
	}
	for _, f := range frames {
		if err := store.RecordFrame(ctx, f); err != nil {
			t.Fatalf("RecordFrame failed: %v", err)
		}
	}
	if err := store.FinishRun(ctx, run.ID, Outcome{Status: RunFailed, FramesQueued: 1, FramesCompleted: 1, Err: errors.New("stream 1 failed")}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRun = %v, %v", got, err)
	}
	if got.Status != RunFailed || got.Driver != "m2mconv-soft" || got.ErrorMessage != "stream 1 failed" {
		t.Fatalf("unexpected finished run %#v", got)
	}
	if got.FramesQueued != 1 || got.FramesCompleted != 1 || got.Streams != 2 {
		t.Fatalf("unexpected counters %#v", got)
	}
	if got.Duration() != 3*time.Second {
		t.Fatalf("duration %s, want 3s", got.Duration())
	}

	stored, err := store.Frames(ctx, run.ID)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(stored))
	}
	if stored[0].Latency != 1500*time.Microsecond || stored[0].OutputPath != "/out/a-s0.png" {
		t.Fatalf("unexpected frame %#v", stored[0])
	}
	if stored[1].Status != "error" || stored[1].OutputPath != "" {
		t.Fatalf("unexpected frame %#v", stored[1])
	}
}

func TestFinishRunRejectsNonFinalStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	run, err := store.StartRun(ctx, Run{ID: "fixed", Device: "/dev/video0", Backend: "soft", InputFormat: "x"})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.ID != "fixed" {
		t.Fatalf("explicit id not kept: %q", run.ID)
	}
	if err := store.FinishRun(ctx, run.ID, Outcome{Status: RunRunning}); err == nil {
		t.Fatal("expected error for non-final status")
	}
	if err := store.FinishRun(ctx, "missing", Outcome{Status: RunCompleted}); err == nil {
		t.Fatal("expected error for unknown run")
	}
	missing, err := store.GetRun(ctx, "missing")
	if err != nil || missing != nil {
		t.Fatalf("GetRun(missing) = %v, %v", missing, err)
	}
}

func TestListRunsNewestFirstAndPrune(t *testing.T) {
	store := openTestStore(t)
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: 24 * time.Hour}
	store.now = clock.Now
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := store.StartRun(ctx, Run{Device: "/dev/video0", Backend: "v4l2", InputFormat: "x", Streams: 1})
		if err != nil {
			t.Fatalf("StartRun failed: %v", err)
		}
		ids = append(ids, run.ID)
		if err := store.RecordFrame(ctx, Frame{RunID: run.ID, Source: "s", Status: "success"}); err != nil {
			t.Fatalf("RecordFrame failed: %v", err)
		}
	}
	if err := store.FinishRun(ctx, ids[0], Outcome{Status: RunCompleted}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Fatalf("unexpected order: %v", runs)
	}

	// Only the finished first run is old enough and final.
	cutoff := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	removed, err := store.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned run, got %d", removed)
	}
	frames, err := store.Frames(ctx, ids[0])
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected frames removed with run, got %d", len(frames))
	}
	all, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 runs left, got %d", len(all))
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()
	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, "UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	if _, err := Open(ctx, path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
