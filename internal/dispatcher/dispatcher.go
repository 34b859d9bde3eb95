package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/linkwise/linkwise/internal/metrics"
	"github.com/linkwise/linkwise/internal/queue"
	"github.com/linkwise/linkwise/internal/storage"
)

const (
	// DefaultBatchSize is the flush threshold and maximum batch size.
	DefaultBatchSize = 50
	// DefaultFlushInterval is the maximum time between automatic flushes.
	DefaultFlushInterval = 30 * time.Second
	// DefaultPollInterval is how often the scheduler checks its triggers.
	DefaultPollInterval = 1 * time.Second
	// DefaultAttemptTimeout bounds one delivery attempt, independent of
	// the recurring schedule.
	DefaultAttemptTimeout = 20 * time.Second

	// backoffBase and backoffMax shape the post-failure gate delay.
	backoffBase = 2 * time.Second
	backoffMax  = 5 * time.Minute
	// jitterFactor is the ±percentage of jitter applied to gate delays.
	jitterFactor = 0.2
)

// ErrBackingOff is returned by Flush when the backoff gate is closed and
// the caller did not force the attempt.
var ErrBackingOff = errors.New("dispatcher: backing off after failed delivery")

// Options configures a Dispatcher.
type Options struct {
	BatchSize      int
	FlushInterval  time.Duration
	PollInterval   time.Duration
	AttemptTimeout time.Duration
}

// Dispatcher drains the event queue to the ingestion endpoint. Flushes
// are triggered by queue depth or elapsed time, whichever comes first,
// and serialized so only one delivery is ever in flight.
type Dispatcher struct {
	queue   *queue.Queue
	client  IngestClient
	store   storage.Store
	logger  *slog.Logger
	metrics metrics.Recorder
	opts    Options

	mu          sync.Mutex
	failures    int
	nextAttempt time.Time
	lastFlush   time.Time
}

// New creates a dispatcher over the given queue and ingest client.
func New(q *queue.Queue, client IngestClient, store storage.Store, logger *slog.Logger, recorder metrics.Recorder, opts Options) *Dispatcher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Dispatcher{
		queue:     q,
		client:    client,
		store:     store,
		logger:    logger.With("component", "dispatcher"),
		metrics:   recorder,
		opts:      opts,
		lastFlush: time.Now(),
	}
}

// Run starts the scheduler loop. Blocks until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		"batch_size", d.opts.BatchSize,
		"flush_interval", d.opts.FlushInterval,
	)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return ctx.Err()
		case <-ticker.C:
			if !d.shouldFlush() {
				continue
			}
			if _, err := d.Flush(ctx); err != nil && !errors.Is(err, ErrBackingOff) {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				d.logger.Warn("scheduled flush failed", "error", err)
			}
		}
	}
}

// shouldFlush checks the two triggers: queue depth reached the batch
// threshold, or the flush interval elapsed with work pending.
func (d *Dispatcher) shouldFlush() bool {
	pending := d.queue.Pending()
	if pending == 0 {
		return false
	}
	if pending >= d.opts.BatchSize {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.lastFlush) >= d.opts.FlushInterval
}

// Flush delivers one batch, respecting the backoff gate after earlier
// failures so a known-down endpoint is not hammered. Returns the number
// of events delivered.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	return d.flush(ctx, false)
}

// ForceFlush delivers one batch regardless of the backoff gate.
func (d *Dispatcher) ForceFlush(ctx context.Context) (int, error) {
	return d.flush(ctx, true)
}

func (d *Dispatcher) flush(ctx context.Context, force bool) (int, error) {
	d.mu.Lock()
	if !force && time.Now().Before(d.nextAttempt) {
		d.mu.Unlock()
		d.metrics.IncFlush("skipped")
		return 0, ErrBackingOff
	}
	d.mu.Unlock()

	batch := d.queue.PeekBatch(d.opts.BatchSize)
	if batch.Len() == 0 {
		d.mu.Lock()
		d.lastFlush = time.Now()
		d.mu.Unlock()
		return 0, nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
	defer cancel()

	start := time.Now()
	result, err := d.client.Send(attemptCtx, batch)
	d.metrics.ObserveFlushDuration(time.Since(start))
	d.metrics.ObserveFlushBatchSize(batch.Len())

	if err != nil && IsTransient(err) {
		// A timed-out attempt lands here too via the wrapped context error.
		d.queue.Requeue(batch)
		d.recordFailure()
		d.metrics.IncFlush("failed")
		d.logger.Warn("flush failed, batch requeued",
			"batch_size", batch.Len(),
			"consecutive_failures", d.consecutiveFailures(),
			"error", err,
		)
		return 0, err
	}

	if err != nil {
		// Permanent rejection. Quarantine is reserved for events the
		// backend names as malformed; a blanket 4xx (bad key, endpoint
		// misconfiguration) keeps the whole batch queued, because the
		// events themselves may be fine once the configuration is.
		var ids []string
		if result != nil && len(result.Rejected) > 0 {
			ids = result.RejectedIDs()
		}
		if qErr := d.quarantine(ctx, ids); qErr != nil {
			d.queue.Requeue(batch)
			d.metrics.IncFlush("failed")
			return 0, qErr
		}
		d.queue.Requeue(batch) // whatever was not quarantined goes back
		d.recordFailure()
		d.metrics.IncFlush("failed")
		d.logger.Error("flush rejected permanently",
			"batch_size", batch.Len(),
			"quarantined", len(ids),
			"error", err,
		)
		return 0, err
	}

	// Delivered. Quarantine any per-event rejects, commit the rest.
	rejected := result.RejectedIDs()
	if len(rejected) > 0 {
		if qErr := d.quarantine(ctx, rejected); qErr != nil {
			d.queue.Requeue(batch)
			d.metrics.IncFlush("failed")
			return 0, qErr
		}
	}
	if err := d.queue.Commit(ctx, batch); err != nil {
		// Committed server-side but not locally: the ids will be
		// redelivered and deduplicated by the backend.
		d.queue.Requeue(batch)
		d.metrics.IncFlush("failed")
		return 0, fmt.Errorf("commit batch: %w", err)
	}

	delivered := batch.Len() - len(rejected)
	for i := 0; i < delivered; i++ {
		d.metrics.IncEventDelivered()
	}
	d.markFlushed()
	d.metrics.IncFlush("success")
	d.logger.Debug("batch delivered",
		"delivered", delivered,
		"quarantined", len(rejected),
	)
	return delivered, nil
}

// quarantine removes the named events from the queue and records their
// ids durably so they are reported but never redelivered.
func (d *Dispatcher) quarantine(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	existing, err := d.Quarantined(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			existing = append(existing, id)
			seen[id] = struct{}{}
		}
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal quarantine set: %w", err)
	}
	if err := d.store.Set(ctx, storage.KeyQuarantined, data); err != nil {
		return fmt.Errorf("persist quarantine set: %w", err)
	}

	if err := d.queue.Discard(ctx, ids); err != nil {
		return fmt.Errorf("discard quarantined events: %w", err)
	}

	for _, id := range ids {
		d.metrics.IncEventQuarantined()
		d.logger.Warn("event quarantined", "event_id", id)
	}
	return nil
}

// Quarantined returns the ids of all events ever quarantined.
func (d *Dispatcher) Quarantined(ctx context.Context) ([]string, error) {
	data, err := d.store.Get(ctx, storage.KeyQuarantined)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load quarantine set: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal quarantine set: %w", err)
	}
	return ids, nil
}

// recordFailure advances the backoff gate: doubling delay from the base,
// capped, with jitter.
func (d *Dispatcher) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()

	delay := backoffBase
	for i := 0; i < d.failures; i++ {
		delay *= 2
		if delay >= backoffMax {
			delay = backoffMax
			break
		}
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor * float64(delay)
	d.failures++
	d.nextAttempt = time.Now().Add(time.Duration(float64(delay) + jitter))
}

// markFlushed resets the backoff gate and the interval trigger.
func (d *Dispatcher) markFlushed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = 0
	d.nextAttempt = time.Time{}
	d.lastFlush = time.Now()
}

// consecutiveFailures returns the current failure streak.
func (d *Dispatcher) consecutiveFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}
