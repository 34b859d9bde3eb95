// Package linkwise is the client SDK for deferred deep link attribution
// and resilient analytics event delivery. A Client owns the durable
// storage, the two-step match session, the offline event queue and the
// background dispatcher; integrators interact only with this package.
package linkwise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/linkwise/linkwise/internal/dispatcher"
	"github.com/linkwise/linkwise/internal/fingerprint"
	"github.com/linkwise/linkwise/internal/matchclient"
	"github.com/linkwise/linkwise/internal/matcher"
	"github.com/linkwise/linkwise/internal/model"
	"github.com/linkwise/linkwise/internal/queue"
	"github.com/linkwise/linkwise/internal/referrer"
	"github.com/linkwise/linkwise/internal/storage"
)

// Lifecycle errors.
var (
	ErrNotStarted = errors.New("linkwise: client not started")
	ErrClosed     = errors.New("linkwise: client closed")
)

type clientState int

const (
	stateNew clientState = iota
	stateReady
	stateClosed
)

// Attribution is the outcome of a deferred deep link resolution exposed
// to integrators.
type Attribution = model.MatchCandidate

// Client is the SDK entry point. Construct with New, call Start once,
// Close when done. All methods are safe for concurrent use.
type Client struct {
	opts      Options
	logger    *slog.Logger
	ownsStore bool

	mu        sync.Mutex
	state     clientState
	store     storage.Store
	queue     *queue.Queue
	disp      *dispatcher.Dispatcher
	match     *matcher.Matcher
	deviceID  string
	sessionID string
	fpHash    string
	utm       map[string]string
	firstRun  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates options and builds a client. No IO happens until Start.
func New(opts Options) (*Client, error) {
	if err := opts.withDefaults(); err != nil {
		return nil, err
	}
	return &Client{
		opts:   opts,
		logger: opts.Logger.With("component", "client"),
	}, nil
}

// Start brings the client to the ready state: opens storage, assigns the
// device id on first launch, rotates the session id, rebuilds the event
// queue from disk and launches the background dispatcher.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}

	store := c.opts.Store
	if store == nil {
		var err error
		store, err = storage.Open(ctx, c.opts.StorageDSN)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		c.ownsStore = true
	}

	deviceID, err := ensureDeviceID(ctx, store)
	if err != nil {
		if c.ownsStore {
			store.Close()
		}
		return fmt.Errorf("device id: %w", err)
	}

	firstLaunch, err := storage.GetBool(ctx, store, storage.KeyFirstLaunch)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		if c.ownsStore {
			store.Close()
		}
		return fmt.Errorf("first launch flag: %w", err)
	}
	c.firstRun = !firstLaunch

	q, err := queue.Open(ctx, store, c.opts.Logger, c.opts.Metrics, c.opts.QueueMaxSize)
	if err != nil {
		if c.ownsStore {
			store.Close()
		}
		return fmt.Errorf("open queue: %w", err)
	}

	referrers := referrer.NewManager(store, c.opts.Referrer, c.opts.Logger)
	fingerprints := fingerprint.NewBuilder(store, c.opts.Signals, c.opts.Logger)
	mc := matchclient.New(c.opts.MatchEndpoint, c.opts.APIKey, c.opts.Logger)
	ic := dispatcher.NewHTTPClient(c.opts.IngestEndpoint, c.opts.APIKey, c.opts.Logger)

	c.store = store
	c.queue = q
	c.deviceID = deviceID
	c.sessionID = ulid.Make().String()
	// On a relaunch the fingerprint built by an earlier session is already
	// on disk; events tracked before (or without) a resolution still carry it.
	c.fpHash = fingerprintHash(ctx, store)
	c.match = matcher.New(mc, fingerprints, referrers, store,
		c.opts.Logger, c.opts.Metrics, c.opts.matcherOptions(deviceID))
	c.disp = dispatcher.New(q, ic, store, c.opts.Logger, c.opts.Metrics, dispatcher.Options{
		BatchSize:      c.opts.FlushBatchSize,
		FlushInterval:  c.opts.FlushInterval,
		AttemptTimeout: c.opts.AttemptTimeout,
	})

	// The install referrer is fetched at most once per installation; on
	// later launches this reads the cache. Its UTM parameters are stamped
	// on every event for campaign breakdowns.
	if ref, err := referrers.Load(ctx); err == nil && ref != nil {
		c.utm = ref.UTM()
	}

	if err := storage.SetBool(ctx, store, storage.KeyFirstLaunch, true); err != nil {
		c.logger.Warn("failed to persist first launch flag", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.disp.Run(runCtx)
	}()

	c.state = stateReady
	c.logger.Info("client started",
		"device_id", deviceID,
		"session_id", c.sessionID,
		"first_launch", c.firstRun,
	)
	return nil
}

// FirstLaunch reports whether the current Start was the first ever for
// this installation.
func (c *Client) FirstLaunch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstRun
}

// SessionID returns the id assigned to the current session.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ResolveDeferredLink runs the deferred attribution session. The session
// executes at most once per installation: later calls return the persisted
// outcome without touching the network. A no-match outcome is a normal
// result, not an error; errors are reserved for lifecycle misuse and
// fatal local storage failure.
func (c *Client) ResolveDeferredLink(ctx context.Context) (Attribution, error) {
	c.mu.Lock()
	if c.state != stateReady {
		err := ErrNotStarted
		if c.state == stateClosed {
			err = ErrClosed
		}
		c.mu.Unlock()
		return model.NoMatch(), err
	}
	m, store := c.match, c.store
	budget := c.opts.MatchSessionBudget
	c.mu.Unlock()

	attempted, err := storage.GetBool(ctx, store, storage.KeyMatchAttempted)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.NoMatch(), fmt.Errorf("match attempted flag: %w", err)
	}
	if attempted {
		last, err := matcher.LastAttribution(ctx, store)
		if err != nil {
			return model.NoMatch(), err
		}
		if last == nil {
			return model.NoMatch(), nil
		}
		return *last, nil
	}

	candidate, err := m.Match(ctx, budget)
	if err != nil {
		return model.NoMatch(), err
	}

	// The flag is set after the session completes, whatever the outcome,
	// so one installation never burns the backend twice.
	if err := storage.SetBool(ctx, store, storage.KeyMatchAttempted, true); err != nil {
		c.logger.Warn("failed to persist match attempted flag", "error", err)
	}

	c.mu.Lock()
	c.fpHash = fingerprintHash(ctx, store)
	c.mu.Unlock()

	return candidate, nil
}

// LastAttribution returns the attribution persisted by an earlier
// resolution, or nil when none was ever accepted.
func (c *Client) LastAttribution(ctx context.Context) (*Attribution, error) {
	c.mu.Lock()
	if c.state != stateReady {
		c.mu.Unlock()
		return nil, ErrNotStarted
	}
	store := c.store
	c.mu.Unlock()
	return matcher.LastAttribution(ctx, store)
}

// TrackEvent records an analytics event for eventual delivery. It returns
// as soon as the event is durably enqueued; delivery happens in the
// background and survives restarts and offline periods. The error return
// covers only lifecycle misuse and local storage failure.
func (c *Client) TrackEvent(ctx context.Context, eventType model.EventType, properties map[string]any) error {
	c.mu.Lock()
	if c.state != stateReady {
		err := ErrNotStarted
		if c.state == stateClosed {
			err = ErrClosed
		}
		c.mu.Unlock()
		return err
	}
	q := c.queue
	event := model.AnalyticsEvent{
		ID:          model.NewEventID(),
		Type:        eventType,
		Properties:  properties,
		Timestamp:   time.Now().UTC(),
		DeviceID:    c.deviceID,
		SessionID:   c.sessionID,
		Fingerprint: c.fpHash,
		UTM:         c.utm,
	}
	c.mu.Unlock()

	return q.Enqueue(ctx, event)
}

// Flush forces an immediate delivery attempt, bypassing the dispatcher's
// backoff gate. Returns the number of events delivered.
func (c *Client) Flush(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.state != stateReady {
		c.mu.Unlock()
		return 0, ErrNotStarted
	}
	d := c.disp
	c.mu.Unlock()
	return d.ForceFlush(ctx)
}

// Pending returns the number of undelivered events.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateReady {
		return 0
	}
	return c.queue.Size()
}

// Close attempts a final flush, stops the dispatcher and releases
// storage. The client cannot be restarted after Close.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateReady {
		c.state = stateClosed
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	d, cancel, store := c.disp, c.cancel, c.store
	owns := c.ownsStore
	c.mu.Unlock()

	if _, err := d.ForceFlush(ctx); err != nil {
		c.logger.Debug("final flush incomplete, events remain queued", "error", err)
	}

	cancel()
	c.wg.Wait()

	if owns {
		if err := store.Close(); err != nil {
			return fmt.Errorf("close storage: %w", err)
		}
	}
	c.logger.Info("client closed")
	return nil
}

// ensureDeviceID returns the persisted device id, minting one on first
// launch.
func ensureDeviceID(ctx context.Context, store storage.Store) (string, error) {
	id, err := storage.GetString(ctx, store, storage.KeyDeviceID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	id = uuid.NewString()
	if err := store.Set(ctx, storage.KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// fingerprintHash reads the persisted fingerprint hash, if one was built.
func fingerprintHash(ctx context.Context, store storage.Store) string {
	raw, err := store.Get(ctx, storage.KeyFingerprint)
	if err != nil {
		return ""
	}
	var fp model.Fingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		return ""
	}
	return fp.Hash
}
