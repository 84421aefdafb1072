// Package v4l2 drives Linux memory-to-memory video devices through the V4L2
// ioctl interface without cgo.
//
// A Device wraps one open file handle on a node such as /dev/video0. The
// source queue (V4L2 OUTPUT) is exposed as Input and the converted queue
// (V4L2 CAPTURE) as Output, matching the m2m.Device contract. Both the
// multi-planar and the single-planar APIs are supported; the multi-planar one
// is preferred when the driver offers both.
//
// Buffers are always queued by dmabuf file descriptor. ExportBuffers hands out
// dmabufs exported from driver memory, and Allocator creates host buffers
// through /dev/udmabuf for callers that fill frames themselves.
//
// A poller goroutine per device waits for completions and posts them to the
// dispatch loop, so buffer ready handlers always run on the loop.
package v4l2
