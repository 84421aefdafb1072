//go:build linux

package v4l2

import (
	"testing"
	"time"
	"unsafe"

	"m2mconv/internal/dispatch"
	"m2mconv/internal/logging"
	"m2mconv/internal/media"
)

func TestStructSizes(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layout checked on 64-bit hosts")
	}
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"capability", unsafe.Sizeof(capability{}), 104},
		{"fmtdesc", unsafe.Sizeof(fmtDesc{}), 64},
		{"pix_format", unsafe.Sizeof(pixFormat{}), 48},
		{"pix_format_mplane", unsafe.Sizeof(pixFormatMPlane{}), 192},
		{"format", unsafe.Sizeof(format{}), 208},
		{"requestbuffers", unsafe.Sizeof(requestBuffers{}), 20},
		{"buffer", unsafe.Sizeof(buffer{}), 88},
		{"plane", unsafe.Sizeof(plane{}), 64},
		{"exportbuffer", unsafe.Sizeof(exportBuffer{}), 64},
		{"udmabuf_create", unsafe.Sizeof(udmabufCreate{}), 24},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("size %d, want %d", tc.got, tc.want)
			}
		})
	}
}

func TestIoctlNumbers(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("request numbers checked on 64-bit hosts")
	}
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"VIDIOC_QUERYCAP", vidiocQueryCap, 0x80685600},
		{"VIDIOC_ENUM_FMT", vidiocEnumFmt, 0xc0405602},
		{"VIDIOC_S_FMT", vidiocSetFmt, 0xc0d05605},
		{"VIDIOC_REQBUFS", vidiocReqBufs, 0xc0145608},
		{"VIDIOC_QBUF", vidiocQBuf, 0xc058560f},
		{"VIDIOC_EXPBUF", vidiocExpBuf, 0xc0405610},
		{"VIDIOC_DQBUF", vidiocDQBuf, 0xc0585611},
		{"VIDIOC_STREAMON", vidiocStreamOn, 0x40045612},
		{"VIDIOC_STREAMOFF", vidiocStreamOff, 0x40045613},
		{"VIDIOC_TRY_FMT", vidiocTryFmt, 0xc0d05640},
		{"UDMABUF_CREATE", udmabufCreateIoctl, 0x40187542},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("request 0x%x, want 0x%x", tc.got, tc.want)
			}
		})
	}
}

func TestBufferMemoryUnion(t *testing.T) {
	var b buffer
	b.setFD(42)
	if got := *(*int32)(unsafe.Pointer(&b.M)); got != 42 {
		t.Fatalf("fd not stored in memory union: %d", got)
	}
	var p plane
	p.setFD(7)
	if got := *(*int32)(unsafe.Pointer(&p.M)); got != 7 {
		t.Fatalf("plane fd %d", got)
	}
}

func TestCString(t *testing.T) {
	raw := [16]byte{'m', 't', 'k', '-', 'm', 'd', 'p'}
	if got := cString(raw[:]); got != "mtk-mdp" {
		t.Fatalf("got %q", got)
	}
	full := []byte("abcd")
	if got := cString(full); got != "abcd" {
		t.Fatalf("got %q", got)
	}
}

func TestOpenRejectsNonVideoNode(t *testing.T) {
	loop := dispatch.New(logging.NewNop())
	dev := New("/dev/null", loop, logging.NewNop())
	if err := dev.Open(); err == nil {
		dev.Close()
		t.Fatal("expected /dev/null to be rejected")
	}
	if err := New("", loop, logging.NewNop()).Open(); err == nil {
		t.Fatal("expected empty node to be rejected")
	}
	if _, err := dev.Input().Formats(); err == nil {
		t.Fatal("expected queue calls on a closed device to fail")
	}
}

func newTestQueue(slots int) *queue {
	d := New("/dev/video-test", nil, logging.NewNop())
	d.output.bufType = bufTypeVideoCaptureMPlane
	d.mplane = true
	d.output.init()
	d.output.slots = make([]slot, slots)
	return d.output
}

func TestPickSlotPrefersLastUse(t *testing.T) {
	q := newTestQueue(3)
	a := media.NewMemoryBuffer(4)
	b := media.NewMemoryBuffer(4)
	q.slots[1].last = a

	idx, err := q.pickSlot(a)
	if err != nil || idx != 1 {
		t.Fatalf("pickSlot(a) = %d, %v; want 1", idx, err)
	}
	idx, err = q.pickSlot(b)
	if err != nil || idx != 0 {
		t.Fatalf("pickSlot(b) = %d, %v; want fresh slot 0", idx, err)
	}

	q.slots[0].queued = b
	if _, err := q.pickSlot(b); err == nil {
		t.Fatal("expected duplicate queue to be rejected")
	}
	q.slots[1].queued = a
	q.slots[2].queued = media.NewMemoryBuffer(4)
	if _, err := q.pickSlot(media.NewMemoryBuffer(4)); err == nil {
		t.Fatal("expected full queue to be rejected")
	}
}

func TestMetadataFromBuffer(t *testing.T) {
	q := newTestQueue(1)
	vb := buffer{Sequence: 9, Flags: bufFlagError, Length: 2}
	vb.Timestamp.Sec = 2
	vb.Timestamp.Usec = 500
	ps := make([]plane, maxPlanes)
	ps[0].BytesUsed = 100
	ps[1].BytesUsed = 50

	md := q.metadata(&vb, ps)
	if md.Status != media.FrameError {
		t.Fatalf("status %s, want error", md.Status)
	}
	if md.Sequence != 9 {
		t.Fatalf("sequence %d", md.Sequence)
	}
	if md.Timestamp != 2*time.Second+500*time.Microsecond {
		t.Fatalf("timestamp %s", md.Timestamp)
	}
	if len(md.BytesUsed) != 2 || md.BytesUsed[0] != 100 || md.BytesUsed[1] != 50 {
		t.Fatalf("bytes used %v", md.BytesUsed)
	}
}

func TestCompleteDropsStaleGeneration(t *testing.T) {
	q := newTestQueue(2)
	var got []*media.FrameBuffer
	q.SetBufferReadyHandler(func(buf *media.FrameBuffer) { got = append(got, buf) })
	buf := media.NewMemoryBuffer(4)
	q.slots[0].queued = buf

	q.complete(q.gen.Load()-1, 0, media.Metadata{})
	if len(got) != 0 {
		t.Fatal("stale completion delivered")
	}
	q.complete(q.gen.Load(), 1, media.Metadata{})
	if len(got) != 0 {
		t.Fatal("completion for empty slot delivered")
	}
	q.complete(q.gen.Load(), 0, media.Metadata{Sequence: 3})
	if len(got) != 1 || got[0] != buf || buf.Metadata().Sequence != 3 {
		t.Fatalf("completion not delivered: %v", got)
	}
	if q.slots[0].queued != nil {
		t.Fatal("slot still marked queued")
	}
}

func TestReleaseInFlightNeverNegative(t *testing.T) {
	q := newTestQueue(1)
	q.inFlight.Store(1)
	q.releaseInFlight()
	q.releaseInFlight()
	if n := q.inFlight.Load(); n != 0 {
		t.Fatalf("in flight %d", n)
	}
	if q.armed() {
		t.Fatal("queue armed without streaming")
	}
}
