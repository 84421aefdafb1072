package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"m2mconv/internal/logging"
)

// ErrClosed is returned when work is submitted to a loop that has stopped.
var ErrClosed = errors.New("dispatch loop closed")

// Poster accepts events for serialized execution.
type Poster interface {
	Post(fn func()) bool
}

// Loop runs posted events one at a time, in posting order, on the goroutine
// that called Run. The inbox is unbounded so posting never blocks, including
// from inside an event.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	inbox   []func()
	wake    chan struct{}
	closed  bool
	running bool
	done    chan struct{}
}

// New constructs an idle loop. Call Run to start processing.
func New(logger *slog.Logger) *Loop {
	return &Loop{
		logger: logging.NewComponentLogger(logger, "dispatch"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post appends fn to the inbox. It returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.inbox = append(l.inbox, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for its result. It must not be used from
// an event already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The event may have run just before the loop exited.
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Run processes events until ctx is cancelled or Close is called. Events still
// queued when Close is called are run before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("dispatch loop already running")
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		batch, closed := l.take()
		for _, fn := range batch {
			l.run(fn)
		}
		if closed && len(batch) == 0 {
			return nil
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			l.Close()
			l.drain()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting events. Run returns after draining the inbox.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) take() ([]func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.inbox
	l.inbox = nil
	return batch, l.closed
}

func (l *Loop) drain() {
	for {
		batch, _ := l.take()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatch event panicked",
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "dispatch_event_panic"),
				logging.String(logging.FieldErrorHint, "inspect the completion handler that was running"),
			)
		}
	}()
	fn()
}
