// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the engine.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Matching metrics
	IncMatchAttempt(method string) // method: "referrer" or "fingerprint"
	IncMatchResult(outcome string) // outcome: "accepted", "rejected", "no_match", "error"
	ObserveMatchSessionDuration(duration time.Duration)

	// Event pipeline metrics
	IncEventEnqueued(status string) // status: "success", "dropped", "duplicate"
	IncEventDelivered()
	IncEventQuarantined()
	SetQueueDepth(depth int64)

	// Dispatch metrics
	IncFlush(status string) // status: "success", "failed", "skipped"
	ObserveFlushBatchSize(size int)
	ObserveFlushDuration(duration time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
