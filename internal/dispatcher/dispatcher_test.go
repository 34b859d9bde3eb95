package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linkwise/linkwise/internal/model"
	"github.com/linkwise/linkwise/internal/queue"
	"github.com/linkwise/linkwise/internal/storage"
	"github.com/linkwise/linkwise/internal/testutil"
)

// fakeIngest replays scripted outcomes and records sent batches.
type fakeIngest struct {
	script  []fakeOutcome
	batches []model.EventBatch
}

type fakeOutcome struct {
	result *IngestResult
	err    error
}

func (f *fakeIngest) Send(ctx context.Context, batch model.EventBatch) (*IngestResult, error) {
	f.batches = append(f.batches, batch)
	if len(f.script) == 0 {
		return &IngestResult{Accepted: batch.Len()}, nil
	}
	next := f.script[0]
	f.script = f.script[1:]
	return next.result, next.err
}

type testEnv struct {
	store  *storage.MemoryStore
	queue  *queue.Queue
	ingest *fakeIngest
	disp   *Dispatcher
}

func newTestEnv(t *testing.T, script ...fakeOutcome) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	q, err := queue.Open(context.Background(), store, testutil.Logger(t), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	ingest := &fakeIngest{script: script}
	disp := New(q, ingest, store, testutil.Logger(t), nil, Options{
		BatchSize:      10,
		FlushInterval:  time.Hour, // interval trigger disabled in unit tests
		AttemptTimeout: time.Second,
	})
	return &testEnv{store: store, queue: q, ingest: ingest, disp: disp}
}

func (e *testEnv) enqueue(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := e.queue.Enqueue(context.Background(), model.AnalyticsEvent{
			ID:        id,
			Type:      model.EventCustom,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
}

func TestFlushDeliversAndCommits(t *testing.T) {
	e := newTestEnv(t)
	e.enqueue(t, "e0", "e1", "e2")

	delivered, err := e.disp.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if delivered != 3 {
		t.Errorf("delivered = %d, want 3", delivered)
	}
	if e.queue.Size() != 0 {
		t.Errorf("queue size after flush = %d, want 0", e.queue.Size())
	}
	if got := e.ingest.batches[0].IDs(); got[0] != "e0" || got[2] != "e2" {
		t.Errorf("batch order = %v", got)
	}
}

func TestFlushEmptyQueue(t *testing.T) {
	e := newTestEnv(t)
	delivered, err := e.disp.Flush(context.Background())
	if err != nil || delivered != 0 {
		t.Errorf("Flush on empty queue = (%d, %v), want (0, nil)", delivered, err)
	}
}

func TestTransientFailureRequeuesAndGates(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t,
		fakeOutcome{err: fmt.Errorf("%w: HTTP 503", ErrTransient)},
	)
	e.enqueue(t, "e0", "e1")

	if _, err := e.disp.Flush(ctx); !IsTransient(err) {
		t.Fatalf("Flush error = %v, want transient", err)
	}
	if e.queue.Size() != 2 {
		t.Errorf("queue size after failed flush = %d, want 2", e.queue.Size())
	}

	// The gate is now closed: a plain Flush is refused without network IO.
	if _, err := e.disp.Flush(ctx); err != ErrBackingOff {
		t.Errorf("gated Flush error = %v, want ErrBackingOff", err)
	}
	if len(e.ingest.batches) != 1 {
		t.Errorf("sends = %d, want 1 (gated flush must not hit the network)", len(e.ingest.batches))
	}

	// ForceFlush bypasses the gate and succeeds with the default script.
	delivered, err := e.disp.ForceFlush(ctx)
	if err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
}

func TestFailedBatchKeepsOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t,
		fakeOutcome{err: fmt.Errorf("%w: connection reset", ErrTransient)},
	)
	e.enqueue(t, "e0", "e1", "e2")

	e.disp.Flush(ctx)
	delivered, err := e.disp.ForceFlush(ctx)
	if err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if delivered != 3 {
		t.Errorf("delivered = %d", delivered)
	}

	first, second := e.ingest.batches[0].IDs(), e.ingest.batches[1].IDs()
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("order changed across retry: %v vs %v", first, second)
		}
	}
}

func TestPerEventQuarantine(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t,
		fakeOutcome{result: &IngestResult{
			Accepted: 2,
			Rejected: []RejectedEvent{{ID: "bad", Reason: "malformed properties"}},
		}},
	)
	e.enqueue(t, "e0", "bad", "e1")

	delivered, err := e.disp.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
	if e.queue.Size() != 0 {
		t.Errorf("queue size = %d, want 0 (bad event quarantined, not requeued)", e.queue.Size())
	}

	ids, err := e.disp.Quarantined(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "bad" {
		t.Errorf("quarantined = %v, want [bad]", ids)
	}
}

func TestBlanketPermanentKeepsBatchQueued(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t,
		fakeOutcome{err: fmt.Errorf("%w: HTTP 401", ErrPermanent)},
	)
	e.enqueue(t, "e0", "e1")

	if _, err := e.disp.Flush(ctx); err == nil {
		t.Fatal("expected error")
	}

	// A rejection with no named ids (bad API key, misconfigured
	// endpoint) must not destroy events: everything stays queued and
	// the backoff gate closes.
	if e.queue.Size() != 2 {
		t.Errorf("queue size = %d, want 2", e.queue.Size())
	}
	ids, _ := e.disp.Quarantined(ctx)
	if len(ids) != 0 {
		t.Errorf("quarantined = %v, want none", ids)
	}
	if _, err := e.disp.Flush(ctx); err != ErrBackingOff {
		t.Errorf("followup Flush error = %v, want ErrBackingOff", err)
	}

	// Once the configuration is fixed the events deliver intact.
	delivered, err := e.disp.ForceFlush(ctx)
	if err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
}

func TestPermanentWithNamedIDsRequeuesRest(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t,
		fakeOutcome{
			result: &IngestResult{Rejected: []RejectedEvent{{ID: "bad"}}},
			err:    fmt.Errorf("%w: HTTP 422", ErrPermanent),
		},
	)
	e.enqueue(t, "good0", "bad", "good1")

	if _, err := e.disp.Flush(ctx); err == nil {
		t.Fatal("expected error")
	}
	if e.queue.Size() != 2 {
		t.Errorf("queue size = %d, want 2 (good events requeued)", e.queue.Size())
	}

	batch := e.queue.PeekBatch(10)
	if got := batch.IDs(); len(got) != 2 || got[0] != "good0" || got[1] != "good1" {
		t.Errorf("requeued ids = %v", got)
	}
}

func TestQuarantineSetSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t,
		fakeOutcome{result: &IngestResult{Rejected: []RejectedEvent{{ID: "bad"}}}},
	)
	e.enqueue(t, "bad")
	if _, err := e.disp.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// New dispatcher over the same store sees the persisted set.
	q2, err := queue.Open(ctx, e.store, testutil.Logger(t), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	d2 := New(q2, &fakeIngest{}, e.store, testutil.Logger(t), nil, Options{})
	ids, err := d2.Quarantined(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "bad" {
		t.Errorf("quarantined after restart = %v", ids)
	}
}

func TestRateLimitedBatchSurvivesUntilRecovery(t *testing.T) {
	ctx := context.Background()

	var rateLimited atomic.Bool
	rateLimited.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rateLimited.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	q, err := queue.Open(ctx, store, testutil.Logger(t), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := New(q, NewHTTPClient(srv.URL, "lw_test", testutil.Logger(t)), store, testutil.Logger(t), nil, Options{
		BatchSize:      10,
		FlushInterval:  time.Hour,
		AttemptTimeout: time.Second,
	})

	for _, id := range []string{"e0", "e1"} {
		if err := q.Enqueue(ctx, model.AnalyticsEvent{ID: id, Type: model.EventCustom, Timestamp: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := d.Flush(ctx); !IsTransient(err) {
		t.Fatalf("Flush under rate limiting = %v, want transient", err)
	}
	if q.Size() != 2 {
		t.Fatalf("queue size = %d, want 2 (rate limiting must not drop events)", q.Size())
	}
	ids, _ := d.Quarantined(ctx)
	if len(ids) != 0 {
		t.Fatalf("quarantined = %v, want none", ids)
	}

	rateLimited.Store(false)
	delivered, err := d.ForceFlush(ctx)
	if err != nil {
		t.Fatalf("ForceFlush after recovery: %v", err)
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
}

func TestRunFlushesOnThreshold(t *testing.T) {
	store := storage.NewMemory()
	q, err := queue.Open(context.Background(), store, testutil.Logger(t), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	ingest := &fakeIngest{}
	d := New(q, ingest, store, testutil.Logger(t), nil, Options{
		BatchSize:     3,
		FlushInterval: time.Hour,
		PollInterval:  5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		q.Enqueue(ctx, model.AnalyticsEvent{ID: fmt.Sprintf("e%d", i), Type: model.EventCustom, Timestamp: time.Now()})
	}

	deadline := time.After(2 * time.Second)
	for q.Size() > 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never flushed on threshold")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRunFlushesOnInterval(t *testing.T) {
	store := storage.NewMemory()
	q, err := queue.Open(context.Background(), store, testutil.Logger(t), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := New(q, &fakeIngest{}, store, testutil.Logger(t), nil, Options{
		BatchSize:     100, // threshold never reached
		FlushInterval: 20 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	q.Enqueue(ctx, model.AnalyticsEvent{ID: "solo", Type: model.EventCustom, Timestamp: time.Now()})

	deadline := time.After(2 * time.Second)
	for q.Size() > 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never flushed on interval")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
