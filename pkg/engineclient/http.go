package engineclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/endure/endure-sdk-go/pkg/execution"
)

// Log statuses understood by the engine.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DefaultTimeout bounds a single request to the engine.
const DefaultTimeout = 10 * time.Second

// StatusError is an unexpected HTTP answer from the engine.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("engine returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// logEntry is the body of a log request.
type logEntry struct {
	Status      string `json:"status"`
	Input       any    `json:"input,omitempty"`
	Output      any    `json:"output,omitempty"`
	MaxRetries  *int   `json:"max_retries,omitempty"`
	RetryMethod string `json:"retry_method,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	Final       *bool  `json:"final,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// logResponse is the body the engine answers with.
type logResponse struct {
	Output json.RawMessage `json:"output,omitempty"`
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.http = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) HTTPOption {
	return func(h *HTTPClient) { h.logger = logger }
}

// HTTPClient reports action state transitions to a remote engine.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

var _ execution.EngineClient = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the engine at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("engine base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid engine base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid engine base URL %q: scheme must be http or https", baseURL)
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReportStarted announces an action. The engine answers 208 with the
// recorded output when the action already completed.
func (c *HTTPClient) ReportStarted(ctx context.Context, r execution.Report) error {
	maxRetries := r.Policy.MaxRetries
	return c.sendLog(ctx, r, logEntry{
		Status:      StatusStarted,
		Input:       r.Input,
		MaxRetries:  &maxRetries,
		RetryMethod: string(r.Policy.Mechanism),
	})
}

// ReportAttemptFailed reports a failed attempt that may be retried.
func (c *HTTPClient) ReportAttemptFailed(ctx context.Context, r execution.Report) error {
	final := false
	return c.sendLog(ctx, r, logEntry{
		Status:  StatusFailed,
		Output:  errorOutput(r.Err),
		Attempt: r.Attempt,
		Final:   &final,
	})
}

// ReportCompleted reports the action result.
func (c *HTTPClient) ReportCompleted(ctx context.Context, r execution.Report) error {
	return c.sendLog(ctx, r, logEntry{
		Status:  StatusCompleted,
		Output:  r.Output,
		Attempt: r.Attempt,
	})
}

// ReportFailed reports that the action exhausted its retries.
func (c *HTTPClient) ReportFailed(ctx context.Context, r execution.Report) error {
	final := true
	return c.sendLog(ctx, r, logEntry{
		Status:  StatusFailed,
		Output:  errorOutput(r.Err),
		Attempt: r.Attempt,
		Final:   &final,
	})
}

// MarkRunning tells the engine the workflow execution started running.
func (c *HTTPClient) MarkRunning(ctx context.Context, executionID string) error {
	if executionID == "" {
		return fmt.Errorf("execution id is required")
	}
	endpoint := fmt.Sprintf("%s/executions/%s/started", c.baseURL, url.PathEscape(executionID))

	status, body, err := c.patch(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusOK || status == http.StatusCreated || status == http.StatusNoContent:
		return nil
	case status == http.StatusConflict:
		return execution.ErrAborted
	default:
		return classify(&StatusError{StatusCode: status, Body: string(body)})
	}
}

func (c *HTTPClient) sendLog(ctx context.Context, r execution.Report, entry logEntry) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	entry.Timestamp = ts.UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(entry)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to encode log for %s: %w", r.Identity.Key(), err))
	}

	endpoint := fmt.Sprintf("%s/executions/%s/log/%s",
		c.baseURL,
		url.PathEscape(r.Identity.WorkflowInstanceID),
		url.PathEscape(r.Identity.Name()),
	)

	status, body, err := c.patch(ctx, endpoint, payload)
	if err != nil {
		return err
	}

	c.logger.Debug().
		Str("execution_id", r.Identity.WorkflowInstanceID).
		Str("action", r.Identity.Name()).
		Str("status", entry.Status).
		Int("http_status", status).
		Msg("Log sent to engine")

	switch status {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusAlreadyReported:
		var resp logResponse
		if len(body) > 0 {
			if err := json.Unmarshal(body, &resp); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode engine response: %w", err))
			}
		}
		return &execution.AlreadyReportedError{Output: resp.Output}
	case http.StatusConflict:
		return execution.ErrAborted
	default:
		return classify(&StatusError{StatusCode: status, Body: strings.TrimSpace(string(body))})
	}
}

func (c *HTTPClient) patch(ctx context.Context, endpoint string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, body)
	if err != nil {
		return 0, nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport errors are transient.
		return 0, nil, fmt.Errorf("engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read engine response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// classify marks client errors as permanent so reporting retries stop.
func classify(err *StatusError) error {
	if err.Temporary() {
		return err
	}
	return backoff.Permanent(err)
}

func errorOutput(err error) any {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var ae *execution.ActionError
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	return map[string]string{"error": msg}
}
