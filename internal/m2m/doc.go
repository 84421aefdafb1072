// Package m2m defines the memory-to-memory conversion device consumed by the
// converter core.
//
// A Device is one handle on a conversion block. It exposes two queues: Input
// consumes source frames and Output produces converted frames. Formats are
// negotiated with SetFormat, which writes the values the device accepted back
// into its argument. Buffer completions are delivered through the handler set
// with SetBufferReadyHandler; implementations must invoke it on the dispatch
// loop they were built with, never from their own goroutines.
//
// Implementations live in the v4l2 (kernel memory-to-memory devices) and soft
// (CPU) subpackages.
package m2m
