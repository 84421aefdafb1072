// Package converter coordinates several memory-to-memory conversion engines
// that turn one input frame into several output frames.
//
// A Converter owns one Engine per output stream, each with its own device
// handle on the same converter node. QueueBuffers fans an input buffer out to
// every engine together with that stream's output buffer. Completions come
// back per engine: output buffers are forwarded to the caller at once, while
// the input buffer is reference counted in a pending table and handed back
// exactly once, after every engine it was queued to has consumed it.
//
// All methods, and every completion handler, run on a single dispatch loop
// (see internal/dispatch). The package holds no locks; callers on other
// goroutines reach it through dispatch.Loop.Call.
package converter
