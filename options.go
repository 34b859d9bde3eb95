package linkwise

import (
	"errors"
	"log/slog"
	"time"

	"github.com/linkwise/linkwise/internal/config"
	"github.com/linkwise/linkwise/internal/matcher"
	"github.com/linkwise/linkwise/internal/metrics"
	"github.com/linkwise/linkwise/internal/referrer"
	"github.com/linkwise/linkwise/internal/signal"
	"github.com/linkwise/linkwise/internal/storage"
)

// Options configures a Client. APIKey is the only required field; every
// other zero value falls back to a sensible default.
type Options struct {
	// APIKey authenticates against the match and ingestion backends.
	APIKey string

	// MatchEndpoint and IngestEndpoint are the backend base URLs.
	MatchEndpoint  string
	IngestEndpoint string

	// Platform and AppVersion are reported on match requests.
	Platform   string
	AppVersion string

	// Store is the durable key-value backend. When nil, StorageDSN is
	// consulted; when that is empty too, an in-memory store is used and
	// nothing survives a restart.
	Store      storage.Store
	StorageDSN string

	// Signals supplies device signals for fingerprinting. Defaults to an
	// empty static provider (all signals recorded as missing).
	Signals signal.Provider

	// Referrer supplies the platform install-referrer payload. Defaults
	// to a no-op source, which skips the deterministic match step.
	Referrer referrer.Source

	// Match retry shape.
	MatchMaxAttempts   int
	MatchBaseDelay     time.Duration
	MatchMaxDelay      time.Duration
	MatchSessionBudget time.Duration

	// Event delivery tuning.
	QueueMaxSize   int
	FlushBatchSize int
	FlushInterval  time.Duration
	AttemptTimeout time.Duration

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

const (
	defaultMatchEndpoint  = "https://api.linkwise.dev"
	defaultIngestEndpoint = "https://ingest.linkwise.dev"
	defaultSessionBudget  = 2 * time.Minute
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("linkwise: APIKey is required")

func (o *Options) withDefaults() error {
	if o.APIKey == "" {
		return ErrMissingAPIKey
	}
	if o.MatchEndpoint == "" {
		o.MatchEndpoint = defaultMatchEndpoint
	}
	if o.IngestEndpoint == "" {
		o.IngestEndpoint = defaultIngestEndpoint
	}
	if o.Signals == nil {
		o.Signals = signal.NewStatic(nil)
	}
	if o.Referrer == nil {
		o.Referrer = referrer.NoopSource{}
	}
	if o.MatchSessionBudget <= 0 {
		o.MatchSessionBudget = defaultSessionBudget
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoop()
	}
	return nil
}

func (o *Options) matcherOptions(deviceID string) matcher.Options {
	return matcher.Options{
		Backoff:     matcher.Backoff{Base: o.MatchBaseDelay, Max: o.MatchMaxDelay},
		MaxAttempts: o.MatchMaxAttempts,
		DeviceID:    deviceID,
		Platform:    o.Platform,
		AppVersion:  o.AppVersion,
	}
}

// OptionsFromConfig maps an environment-driven config onto SDK options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		APIKey:             cfg.APIKey,
		MatchEndpoint:      cfg.MatchEndpoint,
		IngestEndpoint:     cfg.IngestEndpoint,
		StorageDSN:         cfg.StorageDSN,
		MatchMaxAttempts:   cfg.MatchMaxAttempts,
		MatchBaseDelay:     cfg.MatchBaseDelay,
		MatchMaxDelay:      cfg.MatchMaxDelay,
		MatchSessionBudget: cfg.MatchSessionBudget,
		QueueMaxSize:       cfg.QueueMaxSize,
		FlushBatchSize:     cfg.FlushBatchSize,
		FlushInterval:      cfg.FlushInterval,
		AttemptTimeout:     cfg.AttemptTimeout,
	}
}
