// Package signal defines the contract for device/browser signal collection.
// Platform-specific collection lives behind Provider; the engine only sees
// normalized string key/value pairs.
package signal

import "context"

// Canonical signal keys, in the fixed order they enter the fingerprint hash.
const (
	KeyPlatform   = "platform"
	KeyModel      = "model"
	KeyOSVersion  = "os_version"
	KeyScreen     = "screen"
	KeyTimezone   = "timezone"
	KeyLocale     = "locale"
	KeyAdID       = "ad_id" // advertising identifier, only if authorized
	KeyUserAgent  = "user_agent"
	KeyAppVersion = "app_version"
)

// Missing is the sentinel serialized for signals a provider cannot supply.
// A fixed sentinel (never empty/absent) keeps the hash layout stable.
const Missing = "-"

// HashOrder is the documented field order for fingerprint hashing.
// Changing this order changes every fingerprint; treat it as frozen.
var HashOrder = []string{
	KeyPlatform,
	KeyModel,
	KeyOSVersion,
	KeyScreen,
	KeyTimezone,
	KeyLocale,
	KeyAdID,
	KeyUserAgent,
	KeyAppVersion,
}

// Provider supplies normalized device signals on demand.
// Implementations must be side-effect-free.
type Provider interface {
	Collect(ctx context.Context) (map[string]string, error)
}

// StaticProvider returns a fixed signal set. Useful for tests and for
// hosts that gather signals up front.
type StaticProvider struct {
	signals map[string]string
}

// NewStatic creates a provider that always returns the given signals.
func NewStatic(signals map[string]string) *StaticProvider {
	copied := make(map[string]string, len(signals))
	for k, v := range signals {
		copied[k] = v
	}
	return &StaticProvider{signals: copied}
}

// Collect returns a copy of the configured signals.
func (p *StaticProvider) Collect(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(p.signals))
	for k, v := range p.signals {
		out[k] = v
	}
	return out, nil
}

// Normalize fills any missing hash-order signal with the sentinel so the
// serialized layout is fixed regardless of what the provider supplied.
func Normalize(signals map[string]string) map[string]string {
	out := make(map[string]string, len(HashOrder))
	for _, key := range HashOrder {
		value := signals[key]
		if value == "" {
			value = Missing
		}
		out[key] = value
	}
	return out
}
