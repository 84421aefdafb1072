// Package pipeline owns a conversion run end to end.
//
// Run locks the converter node, starts the dispatch loop, builds the device
// backend named in the configuration and drives a converter.Converter with
// it: every input image is fitted to the configured input size, packed into a
// free input buffer and queued together with one free output buffer per
// stream. Converted frames are written as PNG files; the run and each frame
// are recorded in the journal.
//
// All converter calls happen on the dispatch loop. Buffers are owned by the
// goroutine running Run whenever they are not queued, and completion handlers
// hand them back over a channel sized so that posting never blocks.
package pipeline
