package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	MatchAttempts        map[string]uint64
	MatchResults         map[string]uint64
	MatchSessionCount    uint64
	MatchSessionTotalNs  int64
	EventsEnqueued       map[string]uint64
	EventsDelivered      uint64
	EventsQuarantined    uint64
	QueueDepth           int64
	Flushes              map[string]uint64
	FlushBatchSizeTotal  uint64
	FlushDurationCount   uint64
	FlushDurationTotalNs int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu             sync.Mutex
	matchAttempts  map[string]uint64
	matchResults   map[string]uint64
	eventsEnqueued map[string]uint64
	flushes        map[string]uint64

	matchSessionCount    uint64
	matchSessionTotalNs  int64
	eventsDelivered      uint64
	eventsQuarantined    uint64
	queueDepth           int64
	flushBatchSizeTotal  uint64
	flushDurationCount   uint64
	flushDurationTotalNs int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		matchAttempts:  make(map[string]uint64),
		matchResults:   make(map[string]uint64),
		eventsEnqueued: make(map[string]uint64),
		flushes:        make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		MatchAttempts:        copyCounters(m.matchAttempts),
		MatchResults:         copyCounters(m.matchResults),
		MatchSessionCount:    m.matchSessionCount,
		MatchSessionTotalNs:  m.matchSessionTotalNs,
		EventsEnqueued:       copyCounters(m.eventsEnqueued),
		EventsDelivered:      m.eventsDelivered,
		EventsQuarantined:    m.eventsQuarantined,
		QueueDepth:           atomic.LoadInt64(&m.queueDepth),
		Flushes:              copyCounters(m.flushes),
		FlushBatchSizeTotal:  m.flushBatchSizeTotal,
		FlushDurationCount:   m.flushDurationCount,
		FlushDurationTotalNs: m.flushDurationTotalNs,
	}
}

// IncMatchAttempt increments the per-method attempt counter.
func (m *InMemoryRecorder) IncMatchAttempt(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchAttempts[method]++
}

// IncMatchResult increments the per-outcome result counter.
func (m *InMemoryRecorder) IncMatchResult(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchResults[outcome]++
}

// ObserveMatchSessionDuration records a completed matching session.
func (m *InMemoryRecorder) ObserveMatchSessionDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchSessionCount++
	m.matchSessionTotalNs += duration.Nanoseconds()
}

// IncEventEnqueued increments the per-status enqueue counter.
func (m *InMemoryRecorder) IncEventEnqueued(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsEnqueued[status]++
}

// IncEventDelivered increments the delivered counter.
func (m *InMemoryRecorder) IncEventDelivered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsDelivered++
}

// IncEventQuarantined increments the quarantined counter.
func (m *InMemoryRecorder) IncEventQuarantined() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsQuarantined++
}

// SetQueueDepth records the current queue depth.
func (m *InMemoryRecorder) SetQueueDepth(depth int64) {
	atomic.StoreInt64(&m.queueDepth, depth)
}

// IncFlush increments the per-status flush counter.
func (m *InMemoryRecorder) IncFlush(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes[status]++
}

// ObserveFlushBatchSize records the size of a flushed batch.
func (m *InMemoryRecorder) ObserveFlushBatchSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushBatchSizeTotal += uint64(size)
}

// ObserveFlushDuration records a flush attempt duration.
func (m *InMemoryRecorder) ObserveFlushDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushDurationCount++
	m.flushDurationTotalNs += duration.Nanoseconds()
}

func copyCounters(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
