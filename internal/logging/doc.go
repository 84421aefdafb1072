// Package logging assembles the structured slog loggers used by the converter
// daemon and CLI.
//
// It owns the console and JSON handlers, level parsing and output plumbing,
// and a small set of attribute helpers and standard field keys so every
// component (dispatch loop, converter streams, devices, pipeline) emits lines
// with the same shape. NewNop provides a discard logger for tests and for
// wiring code that cannot fail.
package logging
