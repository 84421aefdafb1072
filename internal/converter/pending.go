package converter

import (
	"time"

	"m2mconv/internal/media"
)

type pendingEntry struct {
	remaining int
	queuedAt  time.Time
}

// pendingTable counts the outstanding engine shares of each queued input
// buffer. An entry exists only while its count is positive.
type pendingTable struct {
	entries map[*media.FrameBuffer]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[*media.FrameBuffer]*pendingEntry)}
}

func (t *pendingTable) has(buf *media.FrameBuffer) bool {
	_, ok := t.entries[buf]
	return ok
}

// add registers buf with count outstanding shares. It refuses a buffer that
// already has a live entry and non-positive counts.
func (t *pendingTable) add(buf *media.FrameBuffer, count int, now time.Time) bool {
	if count <= 0 || t.has(buf) {
		return false
	}
	t.entries[buf] = &pendingEntry{remaining: count, queuedAt: now}
	return true
}

// release records one completed share. ok is false for unknown buffers. done
// is true exactly once per entry, when the last share completes, and latency
// is then the time since add.
func (t *pendingTable) release(buf *media.FrameBuffer, now time.Time) (done bool, latency time.Duration, ok bool) {
	entry, ok := t.entries[buf]
	if !ok {
		return false, 0, false
	}
	entry.remaining--
	if entry.remaining > 0 {
		return false, 0, true
	}
	delete(t.entries, buf)
	return true, now.Sub(entry.queuedAt), true
}

// reset drops every entry and returns how many were dropped.
func (t *pendingTable) reset() int {
	n := len(t.entries)
	clear(t.entries)
	return n
}

func (t *pendingTable) len() int {
	return len(t.entries)
}
