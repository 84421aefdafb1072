package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

// fanoutHandler sends each record to every child handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) slog.Handler {
	filtered := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			filtered = append(filtered, h)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopHandler{}
	case 1:
		return filtered[0]
	default:
		return &fanoutHandler{handlers: filtered}
	}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// TeeLogger duplicates log output from base into the provided handlers.
func TeeLogger(base *slog.Logger, handlers ...slog.Handler) *slog.Logger {
	if base == nil {
		return slog.New(newFanoutHandler(handlers...))
	}
	all := append([]slog.Handler{base.Handler()}, handlers...)
	return slog.New(newFanoutHandler(all...))
}

// RunLog is a per-run JSON log file teed off the process logger.
type RunLog struct {
	Path   string
	Logger *slog.Logger
	close  func() error
}

// Close flushes and closes the run log file.
func (r *RunLog) Close() error {
	if r == nil || r.close == nil {
		return nil
	}
	return r.close()
}

// OpenRunLog creates <dir>/run-<runID>.log and returns a logger writing to both
// base and that file. Every line carries the run id. The file always records
// debug level so failed runs can be diagnosed after the fact.
func OpenRunLog(base *slog.Logger, dir, runID string) (*RunLog, error) {
	if runID == "" {
		return nil, fmt.Errorf("open run log: empty run id")
	}
	path := filepath.Join(dir, "run-"+runID+".log")
	file, err := OpenLogFile(path)
	if err != nil {
		return nil, err
	}
	handler := NewJSONHandler(file, slog.LevelDebug, false)
	logger := TeeLogger(base, handler).With(String(FieldRunID, runID))
	return &RunLog{Path: path, Logger: logger, close: file.Close}, nil
}
