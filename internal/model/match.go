// Package model defines domain entities for the attribution engine.
package model

import "time"

// MatchMethod identifies which strategy produced a match candidate.
type MatchMethod string

const (
	MethodReferrer    MatchMethod = "referrer"
	MethodFingerprint MatchMethod = "fingerprint"
	MethodNone        MatchMethod = "none"
)

// IsValid checks if the match method is a known value.
func (m MatchMethod) IsValid() bool {
	return m == MethodReferrer || m == MethodFingerprint || m == MethodNone
}

// ConfidenceTier is the discretized trust level of a probabilistic match.
type ConfidenceTier string

const (
	ConfidenceNone   ConfidenceTier = "none"
	ConfidenceLow    ConfidenceTier = "low"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceExact  ConfidenceTier = "exact"
)

// IsValid checks if the confidence tier is a known value.
func (c ConfidenceTier) IsValid() bool {
	switch c {
	case ConfidenceNone, ConfidenceLow, ConfidenceMedium, ConfidenceHigh, ConfidenceExact:
		return true
	}
	return false
}

// Acceptable reports whether a match at this tier may be acted upon.
// Low and none are rejected to protect against false-positive attribution.
func (c ConfidenceTier) Acceptable() bool {
	return c == ConfidenceMedium || c == ConfidenceHigh || c == ConfidenceExact
}

// MatchCandidate is the result of one matching attempt.
// Transient: produced per attempt, only the accepted result is persisted.
type MatchCandidate struct {
	Success    bool              `json:"success"`
	Method     MatchMethod       `json:"method"`
	Confidence ConfidenceTier    `json:"confidence"`
	Score      *float64          `json:"score,omitempty"` // advisory telemetry, never gates
	LinkID     string            `json:"link_id,omitempty"`
	ShortCode  string            `json:"short_code,omitempty"`
	DeepLink   string            `json:"deep_link_url,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// NoMatch is the terminal negative result of a matching session.
func NoMatch() MatchCandidate {
	return MatchCandidate{
		Success:    false,
		Method:     MethodNone,
		Confidence: ConfidenceNone,
	}
}

// Accepted reports whether the candidate passes the acceptance policy:
// referrer matches are deterministic and bypass the confidence gate,
// fingerprint matches must clear the medium tier. A success without a
// deep link URL is never accepted.
func (c *MatchCandidate) Accepted() bool {
	if !c.Success || c.DeepLink == "" {
		return false
	}
	if c.Method == MethodReferrer {
		return true
	}
	return c.Confidence.Acceptable()
}

// Fingerprint is the stable per-installation device fingerprint.
// Computed once, persisted indefinitely, never recomputed: the matching
// backend correlates Hash against a value captured at click time, so
// stability wins over freshness when underlying signals drift.
type Fingerprint struct {
	Hash       string            `json:"hash"`
	RawSignals map[string]string `json:"raw_signals"`
	CreatedAt  time.Time         `json:"created_at"`
}
