package soft

import (
	"image"
	"time"

	"github.com/disintegration/imaging"

	"m2mconv/internal/logging"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
	"m2mconv/internal/pixconv"
)

type job struct {
	in, out       *media.FrameBuffer
	inFmt, outFmt m2m.Format
	inReady       m2m.BufferReadyFunc
	outReady      m2m.BufferReadyFunc
}

func (d *Device) run(work <-chan struct{}, quit <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-quit:
			return
		case <-work:
		}
		for {
			j, ok := d.next()
			if !ok {
				break
			}
			d.process(j)
		}
	}
}

// next pops one input and one output buffer when both queues stream.
func (d *Device) next() (job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	in, out := d.input, d.output
	if !d.open || !in.streaming || !out.streaming || len(in.pending) == 0 || len(out.pending) == 0 {
		return job{}, false
	}
	j := job{
		in:       in.pending[0],
		out:      out.pending[0],
		inFmt:    in.format,
		outFmt:   out.format,
		inReady:  in.ready,
		outReady: out.ready,
	}
	in.pending = in.pending[1:]
	out.pending = out.pending[1:]
	in.inflight++
	out.inflight++
	d.busy = true
	return j, true
}

func (d *Device) process(j job) {
	start := time.Now()
	err := convert(j)

	d.mu.Lock()
	seq := d.sequence
	d.sequence++
	ts := time.Since(d.openedAt)
	d.mu.Unlock()

	outMeta := media.Metadata{Status: media.FrameSuccess, Sequence: seq, Timestamp: ts, BytesUsed: []uint32{j.outFmt.FrameSize()}}
	if err != nil {
		outMeta.Status = media.FrameError
		outMeta.BytesUsed = []uint32{0}
		logging.WarnWithContext(d.logger, "software conversion failed", "conversion_failed",
			logging.Error(err),
			logging.Uint64("sequence", uint64(seq)),
			logging.String(logging.FieldErrorHint, "check that buffers match the negotiated formats"),
			logging.String(logging.FieldImpact, "output frame marked as error"),
		)
	} else {
		d.logger.Debug("frame converted",
			logging.Uint64("sequence", uint64(seq)),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
	inMeta := media.Metadata{Status: media.FrameSuccess, Sequence: seq, Timestamp: ts, BytesUsed: []uint32{j.inFmt.FrameSize()}}

	d.post(func() {
		j.out.SetMetadata(outMeta)
		if j.outReady != nil {
			j.outReady(j.out)
		}
	})
	d.post(func() {
		j.in.SetMetadata(inMeta)
		if j.inReady != nil {
			j.inReady(j.in)
		}
	})

	d.mu.Lock()
	d.input.inflight--
	d.output.inflight--
	d.busy = false
	d.idle.Broadcast()
	d.mu.Unlock()
}

func convert(j job) error {
	img, err := pixconv.Unpack(j.in.Bytes(), j.inFmt.Fourcc, j.inFmt.Size, j.inFmt.Stride())
	if err != nil {
		return err
	}
	var dst image.Image = img
	if j.inFmt.Size != j.outFmt.Size {
		dst = imaging.Resize(img, int(j.outFmt.Size.Width), int(j.outFmt.Size.Height), imaging.Linear)
	}
	return pixconv.Pack(dst, j.outFmt.Fourcc, j.outFmt.Stride(), j.out.Bytes())
}
