// Package referrer handles the one-shot install referrer payload.
// Platform retrieval (the install referrer API exists on Android only)
// lives behind Source; this package owns parsing and the fetch-once cache.
package referrer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/linkwise/linkwise/internal/model"
	"github.com/linkwise/linkwise/internal/storage"
)

// ErrUnavailable is returned by sources on platforms without a referrer API.
var ErrUnavailable = errors.New("referrer: not available on this platform")

// Source retrieves the raw install referrer from the platform.
type Source interface {
	Fetch(ctx context.Context) (*model.InstallReferrer, error)
}

// NoopSource is a Source for platforms without a referrer API.
type NoopSource struct{}

// Fetch always reports the referrer as unavailable.
func (NoopSource) Fetch(ctx context.Context) (*model.InstallReferrer, error) {
	return nil, ErrUnavailable
}

// StaticSource returns a fixed payload. Useful for tests.
type StaticSource struct {
	Payload *model.InstallReferrer
}

// Fetch returns the configured payload.
func (s StaticSource) Fetch(ctx context.Context) (*model.InstallReferrer, error) {
	if s.Payload == nil {
		return nil, ErrUnavailable
	}
	return s.Payload, nil
}

// Parse extracts utm fields from a URL-encoded referrer string, e.g.
// "utm_source=google&utm_medium=cpc&utm_campaign=summer".
func Parse(referrerURL string, clickTime, installTime time.Time) *model.InstallReferrer {
	ref := &model.InstallReferrer{
		ReferrerURL: referrerURL,
		ClickTime:   clickTime,
		InstallTime: installTime,
	}

	values, err := url.ParseQuery(referrerURL)
	if err != nil {
		return ref
	}
	ref.UTMSource = values.Get("utm_source")
	ref.UTMMedium = values.Get("utm_medium")
	ref.UTMCampaign = values.Get("utm_campaign")
	ref.UTMTerm = values.Get("utm_term")
	ref.UTMContent = values.Get("utm_content")
	return ref
}

// Manager fetches the install referrer exactly once per installation and
// serves the cached payload on every later call.
type Manager struct {
	store  storage.Store
	source Source
	logger *slog.Logger
}

// NewManager creates a referrer manager.
func NewManager(store storage.Store, source Source, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		source: source,
		logger: logger.With("component", "referrer.manager"),
	}
}

// Load returns the install referrer payload, or nil when the platform has
// none. The first call fetches from the platform and persists the result;
// the cache is written before the fetched flag so a crash between the two
// writes re-fetches rather than losing the payload.
func (m *Manager) Load(ctx context.Context) (*model.InstallReferrer, error) {
	fetched, err := storage.GetBool(ctx, m.store, storage.KeyReferrerFetched)
	if err != nil {
		return nil, fmt.Errorf("read fetched flag: %w", err)
	}
	if fetched {
		return m.cached(ctx)
	}

	payload, err := m.source.Fetch(ctx)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			if err := storage.SetBool(ctx, m.store, storage.KeyReferrerFetched, true); err != nil {
				return nil, fmt.Errorf("persist fetched flag: %w", err)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("fetch referrer: %w", err)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal referrer: %w", err)
		}
		if err := m.store.Set(ctx, storage.KeyReferrerCache, data); err != nil {
			return nil, fmt.Errorf("persist referrer: %w", err)
		}
		m.logger.Debug("install referrer cached", "utm_source", payload.UTMSource)
	}
	if err := storage.SetBool(ctx, m.store, storage.KeyReferrerFetched, true); err != nil {
		return nil, fmt.Errorf("persist fetched flag: %w", err)
	}

	return payload, nil
}

// cached loads the persisted payload, if any.
func (m *Manager) cached(ctx context.Context) (*model.InstallReferrer, error) {
	data, err := m.store.Get(ctx, storage.KeyReferrerCache)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached referrer: %w", err)
	}

	var payload model.InstallReferrer
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal cached referrer: %w", err)
	}
	return &payload, nil
}
