// Package matchclient implements the wire contract to the matching backend.
package matchclient

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
	ClientTimeout = 15 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 5 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 5 * time.Second
	// ResponseHeaderTimeout is time to wait for response headers.
	ResponseHeaderTimeout = 10 * time.Second

	// MatchPath is the match endpoint path.
	MatchPath = "/v1/match"

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 64 * 1024
)

// Error kinds per the retry policy: transient failures are retried with
// backoff, permanent and malformed failures terminate the session step.
var (
	ErrTransient = errors.New("matchclient: transient failure")
	ErrPermanent = errors.New("matchclient: permanent failure")
	ErrMalformed = errors.New("matchclient: malformed response")
)

// MatchRequest is the request body for a match attempt. Exactly one of
// Referrer or Fingerprint drives the attempt; the method tag follows from
// which is set.
type MatchRequest struct {
	Fingerprint string                 `json:"fingerprint,omitempty"`
	Referrer    *model.InstallReferrer `json:"referrer,omitempty"`
	DeviceID    string                 `json:"device_id,omitempty"`
	Platform    string                 `json:"platform,omitempty"`
	AppVersion  string                 `json:"app_version,omitempty"`
}

// Client issues match requests against the backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a match client for the given backend base URL.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: newHTTPClient(),
		logger:     logger.With("component", "matchclient"),
	}
}

// newHTTPClient creates an HTTP client configured for match requests.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Match issues one match attempt. Failures are classified: network errors,
// timeouts and 5xx wrap ErrTransient; 4xx wraps ErrPermanent; unparsable
// or contract-violating bodies wrap ErrMalformed. A well-formed "no match"
// response is a normal result, not an error.
func (c *Client) Match(ctx context.Context, req MatchRequest) (*model.MatchCandidate, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+MatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: HTTP %d", ErrPermanent, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	var candidate model.MatchCandidate
	if err := json.Unmarshal(data, &candidate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate(&candidate); err != nil {
		return nil, err
	}

	c.logger.Debug("match response",
		"success", candidate.Success,
		"method", candidate.Method,
		"confidence", candidate.Confidence,
	)
	return &candidate, nil
}

// setHeaders applies the standard request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Linkwise-Go/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// validate enforces the response contract.
func validate(c *model.MatchCandidate) error {
	if c.Method == "" {
		c.Method = model.MethodNone
	}
	if c.Confidence == "" {
		c.Confidence = model.ConfidenceNone
	}
	if !c.Method.IsValid() {
		return fmt.Errorf("%w: unknown method %q", ErrMalformed, c.Method)
	}
	if !c.Confidence.IsValid() {
		return fmt.Errorf("%w: unknown confidence %q", ErrMalformed, c.Confidence)
	}
	if c.Success && c.DeepLink == "" {
		return fmt.Errorf("%w: success without deep link url", ErrMalformed)
	}
	return nil
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
