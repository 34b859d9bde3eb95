package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"

	"github.com/linkwise/linkwise/internal/config"
	"github.com/linkwise/linkwise/internal/model"
)

// stubHandler serves scripted match and ingestion responses.
type stubHandler struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newStub(cfg *config.Config, logger *slog.Logger) *stubHandler {
	return &stubHandler{cfg: cfg, logger: logger.With("component", "stub")}
}

// Health reports liveness.
func (s *stubHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Match answers every request with the configured outcome. A confidence
// of "none" scripts a miss; anything else scripts a fingerprint hit at
// that tier.
func (s *stubHandler) Match(w http.ResponseWriter, r *http.Request) {
	if s.injectFailure(w) {
		return
	}

	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	tier := model.ConfidenceTier(s.cfg.StubConfidence)
	if !tier.IsValid() || tier == model.ConfidenceNone {
		writeJSON(w, http.StatusOK, model.NoMatch())
		return
	}

	score := 0.42
	candidate := model.MatchCandidate{
		Success:    true,
		Method:     model.MethodFingerprint,
		Confidence: tier,
		Score:      &score,
		ShortCode:  "stub123",
		DeepLink:   s.cfg.StubDeepLink,
		Params:     map[string]string{"campaign": "stub"},
	}
	s.logger.Debug("match scripted", "confidence", tier, "fingerprint", req["fingerprint"])
	writeJSON(w, http.StatusOK, candidate)
}

// Events acknowledges a batch, rejecting events without an id so the
// client's quarantine path can be exercised end to end.
func (s *stubHandler) Events(w http.ResponseWriter, r *http.Request) {
	if s.injectFailure(w) {
		return
	}

	var batch model.EventBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	accepted := 0
	var rejected []map[string]string
	for _, event := range batch.Events {
		if event.ID == "" || !event.Type.IsValid() {
			rejected = append(rejected, map[string]string{
				"id":     event.ID,
				"reason": "missing id or unknown type",
			})
			continue
		}
		accepted++
	}

	s.logger.Info("batch received", "accepted", accepted, "rejected", len(rejected))
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"rejected": rejected,
	})
}

// injectFailure answers with a 503 for the configured percentage of
// requests. Returns true when the request was consumed.
func (s *stubHandler) injectFailure(w http.ResponseWriter) bool {
	if s.cfg.StubFailureRate <= 0 {
		return false
	}
	if rand.Intn(100) >= s.cfg.StubFailureRate {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "injected failure"})
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
