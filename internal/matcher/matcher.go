// Package matcher orchestrates the deferred deep link matching session.
package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkwise/linkwise/internal/matchclient"
	"github.com/linkwise/linkwise/internal/metrics"
	"github.com/linkwise/linkwise/internal/model"
	"github.com/linkwise/linkwise/internal/storage"
)

// MatchClient issues one match attempt against the backend.
type MatchClient interface {
	Match(ctx context.Context, req matchclient.MatchRequest) (*model.MatchCandidate, error)
}

// FingerprintSource supplies the stable device fingerprint.
type FingerprintSource interface {
	Build(ctx context.Context) (*model.Fingerprint, error)
}

// ReferrerSource supplies the cached install referrer payload, if any.
type ReferrerSource interface {
	Load(ctx context.Context) (*model.InstallReferrer, error)
}

// Options configures a Matcher.
type Options struct {
	Backoff     Backoff
	MaxAttempts int
	DeviceID    string
	Platform    string
	AppVersion  string
}

// Matcher runs the two-step matching sequence: the deterministic referrer
// path first, the probabilistic fingerprint path as fallback.
type Matcher struct {
	client       MatchClient
	fingerprints FingerprintSource
	referrers    ReferrerSource
	store        storage.Store
	logger       *slog.Logger
	metrics      metrics.Recorder
	opts         Options
}

// New creates a matcher.
func New(client MatchClient, fingerprints FingerprintSource, referrers ReferrerSource,
	store storage.Store, logger *slog.Logger, recorder metrics.Recorder, opts Options) *Matcher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Matcher{
		client:       client,
		fingerprints: fingerprints,
		referrers:    referrers,
		store:        store,
		logger:       logger.With("component", "matcher"),
		metrics:      recorder,
		opts:         opts,
	}
}

// Match runs one matching session bounded by sessionBudget wall-clock time.
// It always returns a terminal candidate; transient trouble is retried
// internally and never surfaces as an error. The returned error is reserved
// for fatal local failures (storage unavailable).
//
// Steps run strictly in sequence: the referrer step completes, including
// its retries, before the fingerprint step begins.
func (m *Matcher) Match(ctx context.Context, sessionBudget time.Duration) (model.MatchCandidate, error) {
	start := time.Now()
	defer func() {
		m.metrics.ObserveMatchSessionDuration(time.Since(start))
	}()

	if sessionBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sessionBudget)
		defer cancel()
	}

	// Step 1: deterministic referrer path.
	ref, err := m.referrers.Load(ctx)
	if err != nil {
		m.metrics.IncMatchResult("error")
		return model.NoMatch(), fmt.Errorf("load referrer: %w", err)
	}
	if !ref.IsEmpty() {
		candidate, done := m.runStep(ctx, model.MethodReferrer, matchclient.MatchRequest{
			Referrer:   ref,
			DeviceID:   m.opts.DeviceID,
			Platform:   m.opts.Platform,
			AppVersion: m.opts.AppVersion,
		})
		if done {
			return m.finish(ctx, candidate)
		}
		if candidate.Success && candidate.DeepLink != "" {
			// Referrer matches are authoritative: the platform's install
			// pipeline supplied the click, so no confidence gate applies.
			candidate.Method = model.MethodReferrer
			return m.finish(ctx, candidate)
		}
		m.logger.Debug("referrer step yielded no match, falling back to fingerprint")
	}

	// Step 2: probabilistic fingerprint path.
	fp, err := m.fingerprints.Build(ctx)
	if err != nil {
		m.metrics.IncMatchResult("error")
		return model.NoMatch(), fmt.Errorf("build fingerprint: %w", err)
	}
	candidate, done := m.runStep(ctx, model.MethodFingerprint, matchclient.MatchRequest{
		Fingerprint: fp.Hash,
		DeviceID:    m.opts.DeviceID,
		Platform:    m.opts.Platform,
		AppVersion:  m.opts.AppVersion,
	})
	if done {
		return m.finish(ctx, candidate)
	}

	// Confidence gate: low and none are rejected even when the backend
	// reported success, and the result is normalized to a plain no-match.
	if candidate.Success && !candidate.Confidence.Acceptable() {
		m.logger.Info("match rejected by confidence policy",
			"confidence", candidate.Confidence,
			"link_id", candidate.LinkID,
		)
		m.metrics.IncMatchResult("rejected")
		return model.NoMatch(), nil
	}
	if candidate.Success && candidate.DeepLink != "" {
		candidate.Method = model.MethodFingerprint
		return m.finish(ctx, candidate)
	}

	m.metrics.IncMatchResult("no_match")
	return model.NoMatch(), nil
}

// runStep performs one matching step with retry-with-backoff. It returns
// the step's candidate plus done=true when the session must terminate now
// (budget expiry, attempt exhaustion, non-transient failure) without
// consulting later steps.
func (m *Matcher) runStep(ctx context.Context, method model.MatchMethod, req matchclient.MatchRequest) (model.MatchCandidate, bool) {
	state := &retryState{maxAttempts: m.opts.MaxAttempts, backoff: m.opts.Backoff}

	for {
		if ctx.Err() != nil {
			m.logger.Warn("session budget exhausted", "method", method)
			return model.NoMatch(), true
		}

		m.metrics.IncMatchAttempt(string(method))
		candidate, err := m.client.Match(ctx, req)
		state.attempt++
		if err == nil {
			return *candidate, false
		}

		if !matchclient.IsTransient(err) {
			// 4xx or malformed response: the backend is reachable but the
			// conversation is broken, retrying cannot help.
			m.logger.Error("match step failed permanently", "method", method, "error", err)
			return model.NoMatch(), true
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return model.NoMatch(), true
		}

		if state.exhausted() {
			m.logger.Warn("match step attempt budget exhausted",
				"method", method,
				"attempts", state.attempt,
			)
			return model.NoMatch(), true
		}

		delay := state.backoff.Delay(state.attempt - 1)
		m.logger.Debug("transient match failure, backing off",
			"method", method,
			"attempt", state.attempt,
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return model.NoMatch(), true
		}
	}
}

// finish normalizes the terminal candidate, persists an accepted result
// and records the outcome.
func (m *Matcher) finish(ctx context.Context, candidate model.MatchCandidate) (model.MatchCandidate, error) {
	if !candidate.Accepted() {
		m.metrics.IncMatchResult("no_match")
		return model.NoMatch(), nil
	}

	data, err := json.Marshal(candidate)
	if err != nil {
		return model.NoMatch(), fmt.Errorf("marshal attribution: %w", err)
	}
	if err := m.store.Set(ctx, storage.KeyAttribution, data); err != nil {
		// The match itself stands; persistence is for later launches.
		m.logger.Warn("failed to persist attribution", "error", err)
	}

	m.logger.Info("deferred link matched",
		"method", candidate.Method,
		"confidence", candidate.Confidence,
		"link_id", candidate.LinkID,
		"short_code", candidate.ShortCode,
	)
	m.metrics.IncMatchResult("accepted")
	return candidate, nil
}

// LastAttribution returns the persisted accepted match from an earlier
// session, or nil if none was recorded.
func LastAttribution(ctx context.Context, store storage.Store) (*model.MatchCandidate, error) {
	data, err := store.Get(ctx, storage.KeyAttribution)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attribution: %w", err)
	}

	var candidate model.MatchCandidate
	if err := json.Unmarshal(data, &candidate); err != nil {
		return nil, fmt.Errorf("unmarshal attribution: %w", err)
	}
	return &candidate, nil
}
