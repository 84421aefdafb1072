package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFanoutHandlerNilHandlers(t *testing.T) {
	h := newFanoutHandler(nil, nil)
	if _, ok := h.(NoopHandler); !ok {
		t.Errorf("expected NoopHandler for all nil handlers, got %T", h)
	}
}

func TestNewFanoutHandlerSingleHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner); h != inner {
		t.Error("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsChildLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := newFanoutHandler(
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled when any child accepts debug")
	}
	logger := slog.New(h).With("stream", 0)
	logger.Debug("debug line")
	logger.Info("info line")

	if strings.Contains(infoBuf.String(), "debug line") {
		t.Fatalf("info handler received debug line: %q", infoBuf.String())
	}
	for _, buf := range []*bytes.Buffer{&infoBuf, &debugBuf} {
		if !strings.Contains(buf.String(), "info line") || !strings.Contains(buf.String(), "stream=0") {
			t.Fatalf("expected info line with attrs, got %q", buf.String())
		}
	}
}

func TestPrettyHandlerDedupesKeys(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false)).With("device", "/dev/video0")
	logger.Info("opened", "device", "/dev/video1")
	out := buf.String()
	if strings.Count(out, "device:") != 1 || !strings.Contains(out, "/dev/video1") {
		t.Fatalf("expected single device field with latest value, got %q", out)
	}
}
