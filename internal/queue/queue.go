// Package queue provides the durable, ordered queue of pending analytics
// events. Every mutation is persisted before the in-memory view changes,
// so a crash at any point can only cause redelivery, never loss, and
// redelivery is harmless because event ids are idempotency keys.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/linkwise/linkwise/internal/metrics"
	"github.com/linkwise/linkwise/internal/model"
	"github.com/linkwise/linkwise/internal/storage"
)

// DefaultMaxSize is the default retained-event bound.
const DefaultMaxSize = 1000

// ErrMissingID is returned when an event has no id.
var ErrMissingID = errors.New("queue: event id is required")

// Queue is a durable multiset of pending events. All mutations are
// serialized by a single mutex: arbitrary tracking callers and the
// dispatcher's timer share this structure.
type Queue struct {
	store   storage.Store
	logger  *slog.Logger
	metrics metrics.Recorder
	maxSize int

	mu       sync.Mutex
	events   []model.AnalyticsEvent // pending, enqueue order
	inflight []model.AnalyticsEvent // one outstanding batch, original order
	ids      map[string]struct{}    // ids across events + inflight
	dropped  uint64
}

// Open rebuilds the queue from persisted state, deduplicating by id so a
// crash between a source-level retry and a commit cannot double-enqueue
// the same logical event.
func Open(ctx context.Context, store storage.Store, logger *slog.Logger, recorder metrics.Recorder, maxSize int) (*Queue, error) {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	q := &Queue{
		store:   store,
		logger:  logger.With("component", "queue"),
		metrics: recorder,
		maxSize: maxSize,
		ids:     make(map[string]struct{}),
	}

	data, err := store.Get(ctx, storage.KeyEventQueue)
	if errors.Is(err, storage.ErrNotFound) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	var persisted []model.AnalyticsEvent
	if err := json.Unmarshal(data, &persisted); err != nil {
		// A corrupt queue blob would otherwise wedge the pipeline forever;
		// start fresh and surface the loss in the log.
		q.logger.Error("persisted queue is corrupt, resetting", "error", err)
		return q, nil
	}

	for _, event := range persisted {
		if event.ID == "" {
			continue
		}
		if _, dup := q.ids[event.ID]; dup {
			continue
		}
		q.events = append(q.events, event)
		q.ids[event.ID] = struct{}{}
	}

	if len(q.events) > 0 {
		q.logger.Info("queue rebuilt from storage", "pending", len(q.events))
	}
	q.metrics.SetQueueDepth(int64(len(q.events)))
	return q, nil
}

// Enqueue durably appends an event. Re-enqueueing an id already present is
// a no-op, keeping source-level retries idempotent. When the bound is
// exceeded the oldest pending events are dropped first: recent behavior
// outranks historical backlog.
func (q *Queue) Enqueue(ctx context.Context, event model.AnalyticsEvent) error {
	if event.ID == "" {
		return ErrMissingID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.ids[event.ID]; dup {
		q.metrics.IncEventEnqueued("duplicate")
		return nil
	}

	events := append(append([]model.AnalyticsEvent{}, q.events...), event)

	var droppedIDs []string
	over := len(q.inflight) + len(events) - q.maxSize
	for i := 0; i < over && i < len(events); i++ {
		droppedIDs = append(droppedIDs, events[i].ID)
	}
	if len(droppedIDs) > 0 {
		events = events[len(droppedIDs):]
	}

	if err := q.persistLocked(ctx, q.inflight, events); err != nil {
		return fmt.Errorf("persist enqueue: %w", err)
	}

	q.events = events
	q.ids[event.ID] = struct{}{}
	for _, id := range droppedIDs {
		delete(q.ids, id)
		q.dropped++
		q.metrics.IncEventEnqueued("dropped")
	}
	if len(droppedIDs) > 0 {
		q.logger.Warn("queue bound exceeded, dropped oldest events",
			"dropped", len(droppedIDs),
			"total_dropped", q.dropped,
		)
	}

	q.metrics.IncEventEnqueued("success")
	q.metrics.SetQueueDepth(int64(len(q.events)))
	return nil
}

// PeekBatch takes up to maxSize events from the head for one delivery
// attempt and marks them in flight. Only one batch may be outstanding;
// while one is, PeekBatch returns an empty batch. Persistence is
// untouched: events stay durable until committed.
func (q *Queue) PeekBatch(maxSize int) model.EventBatch {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inflight) > 0 || len(q.events) == 0 || maxSize <= 0 {
		return model.EventBatch{}
	}

	n := maxSize
	if n > len(q.events) {
		n = len(q.events)
	}

	q.inflight = append([]model.AnalyticsEvent{}, q.events[:n]...)
	q.events = append([]model.AnalyticsEvent{}, q.events[n:]...)

	return model.EventBatch{Events: append([]model.AnalyticsEvent{}, q.inflight...)}
}

// Commit removes the acknowledged batch from the queue for good.
func (q *Queue) Commit(ctx context.Context, batch model.EventBatch) error {
	return q.remove(ctx, batch.IDs())
}

// Discard removes specific in-flight events without acknowledgment.
// Used to quarantine events the backend rejected as malformed.
func (q *Queue) Discard(ctx context.Context, ids []string) error {
	return q.remove(ctx, ids)
}

// remove deletes ids from the in-flight set and persists the new state.
func (q *Queue) remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	removing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removing[id] = struct{}{}
	}

	remaining := make([]model.AnalyticsEvent, 0, len(q.inflight))
	for _, event := range q.inflight {
		if _, ok := removing[event.ID]; !ok {
			remaining = append(remaining, event)
		}
	}

	if err := q.persistLocked(ctx, remaining, q.events); err != nil {
		return fmt.Errorf("persist commit: %w", err)
	}

	q.inflight = remaining
	for id := range removing {
		delete(q.ids, id)
	}
	q.metrics.SetQueueDepth(int64(len(q.events) + len(q.inflight)))
	return nil
}

// Requeue returns the outstanding in-flight events to the head of the
// queue in their original relative order after a failed delivery.
func (q *Queue) Requeue(batch model.EventBatch) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inflight) == 0 {
		return
	}

	q.events = append(append([]model.AnalyticsEvent{}, q.inflight...), q.events...)
	q.inflight = nil
	q.metrics.SetQueueDepth(int64(len(q.events)))
}

// Size returns the number of undelivered events (pending + in flight).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events) + len(q.inflight)
}

// Pending returns the number of events available to the next PeekBatch.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// DroppedCount returns how many events were dropped by the bound policy.
func (q *Queue) DroppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Reset discards all pending and in-flight events and their persisted
// state. This is the explicit user-triggered wipe, not an error path.
func (q *Queue) Reset(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Delete(ctx, storage.KeyEventQueue); err != nil {
		return fmt.Errorf("reset queue: %w", err)
	}
	q.events = nil
	q.inflight = nil
	q.ids = make(map[string]struct{})
	q.metrics.SetQueueDepth(0)
	return nil
}

// persistLocked writes the full undelivered list (in-flight head first,
// then pending) under the queue key. Callers hold q.mu.
func (q *Queue) persistLocked(ctx context.Context, inflight, events []model.AnalyticsEvent) error {
	all := make([]model.AnalyticsEvent, 0, len(inflight)+len(events))
	all = append(all, inflight...)
	all = append(all, events...)

	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	return q.store.Set(ctx, storage.KeyEventQueue, data)
}
