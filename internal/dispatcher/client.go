// Package dispatcher flushes queued analytics events to the ingestion
// endpoint on a size-or-interval schedule, with backoff and quarantine.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/linkwise/linkwise/internal/model"
)

const (
	// ClientTimeout is the total request timeout.
	ClientTimeout = 30 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 5 * time.Second

	// EventsPath is the ingestion endpoint path.
	EventsPath = "/v1/events"

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 256 * 1024
)

// Error kinds mirroring the match client taxonomy.
var (
	ErrTransient = errors.New("dispatcher: transient delivery failure")
	ErrPermanent = errors.New("dispatcher: permanent delivery failure")
)

// RejectedEvent identifies an event the backend refused as malformed.
type RejectedEvent struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// IngestResult is the per-batch acknowledgment from the backend.
// A missing or empty body on 2xx means the whole batch was accepted.
type IngestResult struct {
	Accepted int             `json:"accepted"`
	Rejected []RejectedEvent `json:"rejected,omitempty"`
}

// RejectedIDs returns the ids of rejected events in response order.
func (r *IngestResult) RejectedIDs() []string {
	ids := make([]string, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		ids = append(ids, rej.ID)
	}
	return ids
}

// IngestClient sends one batch to the ingestion endpoint.
type IngestClient interface {
	Send(ctx context.Context, batch model.EventBatch) (*IngestResult, error)
}

// HTTPClient is the production IngestClient.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates an ingest client for the given backend base URL.
func NewHTTPClient(baseURL, apiKey string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: ClientTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   DialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With("component", "dispatcher.client"),
	}
}

// Send transmits the batch as a single request. Network trouble and 5xx
// wrap ErrTransient. A 4xx wraps ErrPermanent; when the body names the
// offending event ids the result carries them so the caller can
// quarantine precisely those events.
func (c *HTTPClient) Send(ctx context.Context, batch model.EventBatch) (*IngestResult, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal batch: %v", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EventsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Linkwise-Go/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		// Rate limiting and timeouts clear up on their own; the batch
		// must survive for a later attempt.
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		result := decodeResult(data, 0)
		return result, fmt.Errorf("%w: HTTP %d", ErrPermanent, resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if readErr != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrTransient, readErr)
		}
		return decodeResult(data, batch.Len()), nil
	default:
		return nil, fmt.Errorf("%w: unexpected HTTP %d", ErrPermanent, resp.StatusCode)
	}
}

// decodeResult parses an acknowledgment body, defaulting to a blanket
// acceptance of acceptedAll events when the body is empty or unparsable.
func decodeResult(data []byte, acceptedAll int) *IngestResult {
	result := &IngestResult{Accepted: acceptedAll}
	if len(data) == 0 {
		return result
	}
	if err := json.Unmarshal(data, result); err != nil {
		return &IngestResult{Accepted: acceptedAll}
	}
	return result
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
