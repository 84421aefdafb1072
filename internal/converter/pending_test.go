package converter

import (
	"testing"
	"time"

	"m2mconv/internal/media"
)

func TestPendingTableReleasesOnce(t *testing.T) {
	table := newPendingTable()
	buf := media.NewMemoryBuffer(1)
	start := time.Unix(0, 0)

	if table.add(buf, 0, start) {
		t.Fatal("expected zero count to be refused")
	}
	if !table.add(buf, 2, start) {
		t.Fatal("expected add to succeed")
	}
	if table.add(buf, 1, start) {
		t.Fatal("expected live entry to be refused")
	}

	done, _, ok := table.release(buf, start.Add(time.Millisecond))
	if !ok || done {
		t.Fatalf("first release: ok=%v done=%v", ok, done)
	}
	done, latency, ok := table.release(buf, start.Add(3*time.Millisecond))
	if !ok || !done || latency != 3*time.Millisecond {
		t.Fatalf("second release: ok=%v done=%v latency=%s", ok, done, latency)
	}
	if _, _, ok := table.release(buf, start); ok {
		t.Fatal("expected released entry to be unknown")
	}
	if table.len() != 0 {
		t.Fatalf("expected empty table, got %d", table.len())
	}
}

func TestPendingTableReset(t *testing.T) {
	table := newPendingTable()
	for i := 0; i < 3; i++ {
		table.add(media.NewMemoryBuffer(1), 1, time.Now())
	}
	if n := table.reset(); n != 3 {
		t.Fatalf("expected 3 dropped, got %d", n)
	}
	if table.len() != 0 {
		t.Fatal("expected empty table after reset")
	}
}

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errInvalidForTest
	err := wrap(ErrOperationFailed, "stream 1", "queue input buffer", "", cause)
	if Kind(err) != "operation_failed" {
		t.Fatalf("unexpected kind %q", Kind(err))
	}
	if got := err.Error(); got != "operation failed: stream 1: queue input buffer: EINVAL" {
		t.Fatalf("unexpected message %q", got)
	}
}

var errInvalidForTest = errString("EINVAL")

type errString string

func (e errString) Error() string { return string(e) }
