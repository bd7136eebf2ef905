// Package backend implements the reasoning backends that judge simulator
// output: a local Ollama model, the Anthropic Messages API (the only backend
// that can take over a whole batch through tool use) and Google Gemini via the
// genai SDK.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"labvalidate/internal/logging"
)

// Provider names accepted by New.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// defaultTemperature keeps judgments close to deterministic.
const defaultTemperature = 0.1

// ErrNotConfigured is returned when a backend lacks a required setting.
var ErrNotConfigured = errors.New("backend not configured")

// StatusError is a non-2xx reply from a backend API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Code, e.Body)
}

// retryable reports whether a status is worth another attempt.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// httpClient wraps the retry, backoff and request spacing shared by the HTTP
// backends.
type httpClient struct {
	client      *http.Client
	maxRetries  int
	backoff     time.Duration
	minInterval time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

func newHTTPClient(timeout time.Duration) *httpClient {
	return &httpClient{
		client:      &http.Client{Timeout: timeout},
		maxRetries:  3,
		backoff:     time.Second,
		minInterval: 100 * time.Millisecond,
	}
}

// space waits until minInterval has passed since the previous request.
func (h *httpClient) space(ctx context.Context) error {
	h.mu.Lock()
	wait := h.minInterval - time.Since(h.lastRequest)
	if wait < 0 {
		wait = 0
	}
	h.lastRequest = time.Now().Add(wait)
	h.mu.Unlock()
	return sleep(ctx, wait)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// postJSON sends body to url and returns the response body of the first 2xx
// reply. Rate limits, 5xx replies and transport errors are retried with
// exponential backoff.
func (h *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= h.maxRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, h.backoff*time.Duration(1<<uint(i-1))); err != nil {
				return nil, err
			}
		}
		if err := h.space(ctx); err != nil {
			return nil, err
		}

		data, err := h.do(ctx, http.MethodPost, url, headers, payload)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var se *StatusError
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &se) && !retryable(se.Code):
			return nil, err
		}
		logging.BackendDebug("attempt %d/%d to %s failed: %v", i+1, h.maxRetries+1, url, err)
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (h *httpClient) do(ctx context.Context, method, url string, headers map[string]string, payload []byte) ([]byte, error) {
	resp, err := h.open(ctx, method, url, headers, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// open sends one request and returns the open response for 2xx replies.
// The caller closes the body.
func (h *httpClient) open(ctx context.Context, method, url string, headers map[string]string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}
