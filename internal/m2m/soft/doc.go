// Package soft implements m2m.Device on the CPU.
//
// Each opened device runs one worker goroutine that pairs queued input and
// output buffers in FIFO order, converts the input into the output format and
// size with imaging, and posts the two completions (output first, then input)
// to the dispatch loop. The device stands in for a hardware scaler on hosts
// without one and backs the converter tests.
package soft
