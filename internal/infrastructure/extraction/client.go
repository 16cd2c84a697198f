// Package extraction calls the external document extraction service over HTTP.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// maxResponseSize caps the extraction response body (1MB)
const maxResponseSize = 1 << 20

const extractPath = "/v1/extract"

// MaxAttempts is the first call plus the single retry
const MaxAttempts = 2

// Client implements document.Extractor. Every attempt runs under its own
// timeout; a transient failure (network error, 429, 5xx) is retried once.
// When the caller's context has a deadline, each attempt gets at most its
// share of what is left so the retry still fits.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithRetryDelay sets the pause before the single retry
func WithRetryDelay(d time.Duration) Option {
	return func(cl *Client) {
		cl.retryDelay = d
	}
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("extractor url is required")
	}
	if timeout <= 0 {
		return nil, errors.New("extraction timeout must be positive")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
		retryDelay: 500 * time.Millisecond,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type extractRequest struct {
	DocumentID     uuid.UUID `json:"document_id"`
	ContentLocator string    `json:"content_locator"`
}

// transientError marks a failure worth one more attempt
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Extract asks the service for a structured reading of the document
func (c *Client) Extract(ctx context.Context, documentID uuid.UUID, contentLocator string) (document.ExtractionResult, error) {
	body, err := json.Marshal(extractRequest{DocumentID: documentID, ContentLocator: contentLocator})
	if err != nil {
		return document.ExtractionResult{}, fmt.Errorf("extraction: failed to encode request: %w", err)
	}

	var result document.ExtractionResult
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.once(ctx, body, c.attemptTimeout(ctx, MaxAttempts-attempt+1))
		if err == nil {
			result = r
			return nil
		}
		var transient *transientError
		if errors.As(err, &transient) && ctx.Err() == nil {
			c.logger.Warn("transient extraction failure",
				zap.String("document_id", documentID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), MaxAttempts-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if ctx.Err() != nil {
			return document.ExtractionResult{}, &shared.TimedOutError{Op: "extract", Err: ctx.Err()}
		}
		var transient *transientError
		if errors.As(err, &transient) {
			err = transient.err
		}
		return document.ExtractionResult{}, fmt.Errorf("%w: %v", document.ErrExtractionFailed, err)
	}
	return result, nil
}

// attemptTimeout splits the time left before ctx's deadline across the
// attempts still allowed, never exceeding the configured timeout.
func (c *Client) attemptTimeout(ctx context.Context, attemptsLeft int) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok || attemptsLeft <= 1 {
		return c.timeout
	}
	left := time.Until(deadline) - time.Duration(attemptsLeft-1)*c.retryDelay
	share := left / time.Duration(attemptsLeft)
	if share <= 0 || share >= c.timeout {
		return c.timeout
	}
	return share
}

func (c *Client) once(ctx context.Context, body []byte, timeout time.Duration) (document.ExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+extractPath, bytes.NewReader(body))
	if err != nil {
		return document.ExtractionResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return document.ExtractionResult{}, &transientError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return document.ExtractionResult{}, &transientError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return document.ExtractionResult{}, &transientError{err: fmt.Errorf("service returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return document.ExtractionResult{}, fmt.Errorf("service returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var result document.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return document.ExtractionResult{}, fmt.Errorf("malformed response: %w", err)
	}
	if err := result.Validate(); err != nil {
		return document.ExtractionResult{}, fmt.Errorf("invalid result: %w", err)
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

var _ document.Extractor = (*Client)(nil)
