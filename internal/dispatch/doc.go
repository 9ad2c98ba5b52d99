// Package dispatch provides the asynchronous operation dispatcher. A single
// driver goroutine consumes submitted operations from a bounded intake queue,
// launches handler execution, and on every sweep tick lets the reaper
// force-fail operations that outran their deadline. Closing the dispatcher
// cancels everything still outstanding, tracked or queued, so no operation
// can remain pending forever.
package dispatch
