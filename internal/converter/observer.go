package converter

import (
	"time"

	"m2mconv/internal/media"
)

// Observer receives converter events for instrumentation. Calls happen on the
// dispatch loop and must not block.
type Observer interface {
	InputQueued(streams int)
	OutputCompleted(stream int, status media.FrameStatus)
	InputCompleted(latency time.Duration)
	StaleSignalDropped(stream int)
	QueueFailed(kind string)
	// PendingDropped reports inputs forgotten by Stop without completing.
	PendingDropped(count int)
}

type nopObserver struct{}

func (nopObserver) InputQueued(int)                        {}
func (nopObserver) OutputCompleted(int, media.FrameStatus) {}
func (nopObserver) InputCompleted(time.Duration)           {}
func (nopObserver) StaleSignalDropped(int)                 {}
func (nopObserver) QueueFailed(string)                     {}
func (nopObserver) PendingDropped(int)                     {}
