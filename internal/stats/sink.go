// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default HTTP sink retry policy.
const (
	DefaultRetryBase  = 200 * time.Millisecond
	DefaultMaxRetries = 3
)

// HTTPSink posts snapshots as JSON to a collector endpoint.
type HTTPSink struct {
	url        string
	client     *http.Client
	retryBase  time.Duration
	maxRetries uint64
}

// HTTPSinkOption configures an HTTPSink.
type HTTPSinkOption func(*HTTPSink)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPSinkOption {
	return func(s *HTTPSink) { s.client = c }
}

// WithRetry sets the exponential backoff base and the retry limit.
func WithRetry(base time.Duration, maxRetries uint64) HTTPSinkOption {
	return func(s *HTTPSink) {
		s.retryBase = base
		s.maxRetries = maxRetries
	}
}

// NewHTTPSink creates a sink posting to url.
func NewHTTPSink(url string, opts ...HTTPSinkOption) *HTTPSink {
	s := &HTTPSink{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryBase:  DefaultRetryBase,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts snapshot, retrying network failures and 5xx responses.
func (s *HTTPSink) Send(ctx context.Context, snapshot Snapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return oops.Code("STATS_ENCODE_FAILED").With("app_id", snapshot.AppID).Wrap(err)
	}

	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return s.post(ctx, body)
	})
	if err != nil {
		return oops.Code("STATS_DELIVERY_FAILED").
			With("app_id", snapshot.AppID).
			With("url", s.url).
			Wrap(err)
	}
	return nil
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return oops.Wrapf(err, "build statistics request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	switch {
	case resp.StatusCode >= 500:
		return retry.RetryableError(oops.With("status", resp.StatusCode).Errorf("collector returned %s", resp.Status))
	case resp.StatusCode >= 300:
		return oops.With("status", resp.StatusCode).Errorf("collector returned %s", resp.Status)
	}
	return nil
}

// LogSink logs snapshots instead of delivering them.
type LogSink struct {
	Logger *slog.Logger
}

// Send logs snapshot without its secret.
func (s LogSink) Send(ctx context.Context, snapshot Snapshot) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "statistics",
		"app_id", snapshot.AppID,
		"peak_connections", snapshot.PeakConnections,
		"current_connections", snapshot.CurrentConnections,
		"websocket_messages", snapshot.WebSocketMessages,
		"api_messages", snapshot.APIMessages,
	)
	return nil
}
