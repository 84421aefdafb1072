// Package dispatch provides the single serialized event loop that the
// converter core runs on.
//
// Hardware completion channels (device pollers, software workers) post
// closures into one ordered inbox; the loop executes them one at a time so
// converter state needs no locking. Callers on other goroutines use Call to run
// converter operations on the loop and wait for the result.
package dispatch
