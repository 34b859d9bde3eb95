package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncMatchAttempt is a no-op.
func (n *NoopRecorder) IncMatchAttempt(method string) {}

// IncMatchResult is a no-op.
func (n *NoopRecorder) IncMatchResult(outcome string) {}

// ObserveMatchSessionDuration is a no-op.
func (n *NoopRecorder) ObserveMatchSessionDuration(duration time.Duration) {}

// IncEventEnqueued is a no-op.
func (n *NoopRecorder) IncEventEnqueued(status string) {}

// IncEventDelivered is a no-op.
func (n *NoopRecorder) IncEventDelivered() {}

// IncEventQuarantined is a no-op.
func (n *NoopRecorder) IncEventQuarantined() {}

// SetQueueDepth is a no-op.
func (n *NoopRecorder) SetQueueDepth(depth int64) {}

// IncFlush is a no-op.
func (n *NoopRecorder) IncFlush(status string) {}

// ObserveFlushBatchSize is a no-op.
func (n *NoopRecorder) ObserveFlushBatchSize(size int) {}

// ObserveFlushDuration is a no-op.
func (n *NoopRecorder) ObserveFlushDuration(duration time.Duration) {}
