package batch

import "sync/atomic"

// ProgressSink observes a run.
//
// OnUpdate is called after every task state transition with a snapshot of the
// store and a one-line status. Calls are serialized and must not block.
// IsCancelled is polled before each round and each task start.
type ProgressSink interface {
	OnUpdate(snapshot []GenerationTask, status string)
	IsCancelled() bool
}

// NopSink ignores updates and never cancels.
type NopSink struct{}

// OnUpdate implements ProgressSink.
func (NopSink) OnUpdate([]GenerationTask, string) {}

// IsCancelled implements ProgressSink.
func (NopSink) IsCancelled() bool { return false }

// CancelFlag is a cooperative cancellation flag safe for concurrent use.
// Sinks embed it to satisfy IsCancelled.
type CancelFlag struct {
	cancelled atomic.Bool
}

// Cancel sets the flag. It is idempotent.
func (f *CancelFlag) Cancel() {
	f.cancelled.Store(true)
}

// IsCancelled reports whether Cancel was called.
func (f *CancelFlag) IsCancelled() bool {
	return f.cancelled.Load()
}
