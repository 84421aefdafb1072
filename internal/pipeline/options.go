package pipeline

import (
	"log/slog"
	"time"

	"m2mconv/internal/config"
	"m2mconv/internal/converter"
	"m2mconv/internal/dispatch"
	"m2mconv/internal/journal"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
)

// Options configures a run.
type Options struct {
	Config *config.Config
	// Inputs are the image files converted in order.
	Inputs []string
	Logger *slog.Logger
	// Observer receives converter events, typically a metrics collector.
	Observer converter.Observer
	// Journal records the run. When nil Run opens the journal at
	// Config.JournalPath and closes it before returning.
	Journal *journal.Store
	// Factory overrides the device backend named in the configuration.
	Factory func(poster dispatch.Poster, logger *slog.Logger) m2m.Factory
	// Allocator overrides the input buffer allocator.
	Allocator Allocator
	// Now is the clock used for completion deadlines.
	Now func() time.Time
}

// FrameResult is one converted output frame.
type FrameResult struct {
	Source  string
	Stream  int
	Status  media.FrameStatus
	Path    string
	Latency time.Duration
}

// Summary reports what a run did.
type Summary struct {
	RunID           string
	Driver          string
	Streams         int
	FramesQueued    int
	FramesCompleted int
	Frames          []FrameResult
	LogPath         string
	Duration        time.Duration
}

// Failed counts output frames that did not convert successfully.
func (s Summary) Failed() int {
	n := 0
	for _, f := range s.Frames {
		if f.Status != media.FrameSuccess {
			n++
		}
	}
	return n
}
