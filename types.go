package linkwise

import (
	"time"

	"github.com/linkwise/linkwise/internal/model"
	"github.com/linkwise/linkwise/internal/referrer"
	"github.com/linkwise/linkwise/internal/signal"
)

// Aliases re-export the wire and domain types integrators need without
// opening the internal packages.
type (
	// EventType classifies analytics events.
	EventType = model.EventType

	// AnalyticsEvent is a queued analytics event.
	AnalyticsEvent = model.AnalyticsEvent

	// MatchMethod identifies which strategy produced an attribution.
	MatchMethod = model.MatchMethod

	// ConfidenceTier is the discretized trust level of a match.
	ConfidenceTier = model.ConfidenceTier

	// InstallReferrer is the parsed install-referrer payload.
	InstallReferrer = model.InstallReferrer

	// SignalProvider supplies device signals for fingerprinting. The
	// host application implements this per platform.
	SignalProvider = signal.Provider

	// ReferrerSource supplies the raw install-referrer payload. The
	// host application implements this per platform.
	ReferrerSource = referrer.Source
)

// Event types.
const (
	EventInstall     = model.EventInstall
	EventOpen        = model.EventOpen
	EventClick       = model.EventClick
	EventAttribution = model.EventAttribution
	EventCustom      = model.EventCustom
)

// Match methods.
const (
	MethodReferrer    = model.MethodReferrer
	MethodFingerprint = model.MethodFingerprint
	MethodNone        = model.MethodNone
)

// Confidence tiers, lowest to highest.
const (
	ConfidenceNone   = model.ConfidenceNone
	ConfidenceLow    = model.ConfidenceLow
	ConfidenceMedium = model.ConfidenceMedium
	ConfidenceHigh   = model.ConfidenceHigh
	ConfidenceExact  = model.ConfidenceExact
)

// StaticSignals wraps a fixed signal map in a SignalProvider, useful for
// tests and platforms whose signals never change mid-process.
func StaticSignals(signals map[string]string) SignalProvider {
	return signal.NewStatic(signals)
}

// StaticReferrer wraps an already-parsed referrer payload in a
// ReferrerSource.
func StaticReferrer(ref *InstallReferrer) ReferrerSource {
	return referrer.StaticSource{Payload: ref}
}

// ParseReferrer decodes a raw install-referrer query string into a
// structured payload.
func ParseReferrer(referrerURL string, clickTime, installTime time.Time) *InstallReferrer {
	return referrer.Parse(referrerURL, clickTime, installTime)
}
