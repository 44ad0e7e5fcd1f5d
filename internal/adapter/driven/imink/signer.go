// Package imink implements the AttestationSigner port against imink-protocol
// signing endpoints, with per-endpoint retry and ordered endpoint failover.
package imink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	cleanhttp "github.com/hashicorp/go-cleanhttp"

	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

// DefaultEndpoint is the public imink signing endpoint used when no endpoint
// list is configured.
const DefaultEndpoint = "https://api.imink.app/f"

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 30 * time.Second
	defaultUserAgent   = "splatauth/1.0"
)

// Compile-time interface satisfaction check.
var _ driven.AttestationSigner = (*Signer)(nil)

// Config controls the retry and failover behavior of a Signer. The zero value
// is usable: NewSigner fills in the public endpoint, three attempts per
// endpoint, an exponential backoff schedule, and a pooled HTTP client with a
// 30-second timeout.
type Config struct {
	// Endpoints are candidate signing URLs in priority order; the first entry
	// is the primary. Each endpoint gets MaxAttempts tries before the signer
	// fails over to the next.
	Endpoints []string

	// MaxAttempts is the per-endpoint attempt budget.
	MaxAttempts int

	// NewBackoff produces the wait schedule between attempts on a single
	// endpoint. A fresh schedule is created per endpoint. Tests inject
	// backoff.NewConstantBackOff(0) here for determinism.
	NewBackoff func() backoff.BackOff

	// HTTPClient performs the exchanges. Must have a bounded timeout.
	HTTPClient *http.Client

	// UserAgent identifies this client to the signing service.
	UserAgent string
}

// Signer calls imink-protocol signing endpoints to obtain device-attestation
// values. Network errors, non-2xx responses, and undecodable bodies are
// retried on the same endpoint up to the attempt budget, then the next
// endpoint is tried. An explicit rejection (4xx, or a 2xx body with an empty
// attestation) aborts the whole call without further retries anywhere.
type Signer struct {
	endpoints   []string
	maxAttempts int
	newBackoff  func() backoff.BackOff
	httpClient  *http.Client
	userAgent   string
}

// NewSigner creates a Signer from cfg, applying defaults for unset fields.
func NewSigner(cfg Config) *Signer {
	s := &Signer{
		endpoints:   cfg.Endpoints,
		maxAttempts: cfg.MaxAttempts,
		newBackoff:  cfg.NewBackoff,
		httpClient:  cfg.HTTPClient,
		userAgent:   cfg.UserAgent,
	}
	if len(s.endpoints) == 0 {
		s.endpoints = []string{DefaultEndpoint}
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.newBackoff == nil {
		s.newBackoff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 5 * time.Second
			return bo
		}
	}
	if s.httpClient == nil {
		client := cleanhttp.DefaultPooledClient()
		client.Timeout = defaultTimeout
		s.httpClient = client
	}
	if s.userAgent == "" {
		s.userAgent = defaultUserAgent
	}
	return s
}

// signRequestBody is the JSON body of an imink-protocol signing request.
type signRequestBody struct {
	HashMethod string `json:"hash_method"`
	Token      string `json:"token"`
	NAID       string `json:"na_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// signResponseBody is the JSON body of an imink-protocol signing response.
// Reason is populated on explicit rejections.
type signResponseBody struct {
	F         string      `json:"f"`
	RequestID string      `json:"request_id"`
	Timestamp json.Number `json:"timestamp"`
	Reason    string      `json:"reason"`
}

// Sign obtains an attestation, trying endpoints in priority order. It returns
// ErrSigningRejected immediately on an explicit rejection and
// ErrSigningUnavailable once every endpoint has exhausted its attempts.
func (s *Signer) Sign(ctx context.Context, req driven.SignRequest) (driven.SignResult, error) {
	body, err := json.Marshal(signRequestBody{
		HashMethod: req.HashMethod,
		Token:      req.Token,
		NAID:       req.UserID,
		RequestID:  req.RequestID,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		return driven.SignResult{}, fmt.Errorf("marshal signing request: %w", err)
	}

	var lastErr error
	for i, endpoint := range s.endpoints {
		result, err := s.signEndpoint(ctx, endpoint, body)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, driven.ErrSigningRejected) || ctx.Err() != nil {
			return driven.SignResult{}, err
		}
		lastErr = err
		if i < len(s.endpoints)-1 {
			slog.Warn("signing endpoint exhausted, failing over",
				"endpoint", endpoint,
				"attempts", s.maxAttempts,
				"error", err,
			)
		}
	}

	return driven.SignResult{}, fmt.Errorf("%w: %v", driven.ErrSigningUnavailable, lastErr)
}

// signEndpoint runs the attempt loop against a single endpoint.
func (s *Signer) signEndpoint(ctx context.Context, endpoint string, body []byte) (driven.SignResult, error) {
	bo := s.newBackoff()
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, retryable, err := s.attempt(ctx, endpoint, body)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return driven.SignResult{}, err
		}
		lastErr = err
		slog.Debug("signing attempt failed",
			"endpoint", endpoint,
			"attempt", attempt,
			"error", err,
		)

		if attempt == s.maxAttempts {
			break
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return driven.SignResult{}, ctx.Err()
		}
	}

	return driven.SignResult{}, lastErr
}

// attempt performs one HTTP exchange. The bool reports whether the failure is
// retryable on the same endpoint.
func (s *Signer) attempt(ctx context.Context, endpoint string, body []byte) (driven.SignResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return driven.SignResult{}, false, fmt.Errorf("creating signing request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return driven.SignResult{}, true, fmt.Errorf("signing request to %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return driven.SignResult{}, true, fmt.Errorf("reading signing response from %s: %w", endpoint, err)
	}

	// 4xx other than 429 means the service understood the request and turned
	// it down: the session-derived token itself is bad. Everything else
	// non-2xx is treated as a transient endpoint problem.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		reason := rejectionReason(respBody)
		return driven.SignResult{}, false, fmt.Errorf("%w: %s returned HTTP %d%s",
			driven.ErrSigningRejected, endpoint, resp.StatusCode, reason)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return driven.SignResult{}, true, fmt.Errorf("signing request to %s: HTTP %d", endpoint, resp.StatusCode)
	}

	var decoded signResponseBody
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return driven.SignResult{}, true, fmt.Errorf("decoding signing response from %s: %w", endpoint, err)
	}

	// A well-formed 2xx body with an empty attestation is an explicit
	// rejection, not a transient fault.
	if decoded.F == "" {
		reason := rejectionReason(respBody)
		return driven.SignResult{}, false, fmt.Errorf("%w: %s returned empty attestation%s",
			driven.ErrSigningRejected, endpoint, reason)
	}

	return driven.SignResult{
		F:         decoded.F,
		RequestID: decoded.RequestID,
		Timestamp: decoded.Timestamp.String(),
	}, false, nil
}

// rejectionReason extracts the service-supplied reason from a rejection body,
// formatted for appending to an error message. Returns "" if absent.
func rejectionReason(body []byte) string {
	var decoded signResponseBody
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Reason == "" {
		return ""
	}
	return ": " + decoded.Reason
}
