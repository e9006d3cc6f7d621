package extcall

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/pkg/retry"
)

// maxResponseBytes caps how much of a response body is read for variable
// extraction.
const maxResponseBytes = 1 << 20

// HTTPInvoker performs external calls over HTTP with per-call retry.
type HTTPInvoker struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPInvoker creates an invoker. A nil client uses http.DefaultClient;
// per-attempt timeouts come from the Call, not the client. A nil logger
// falls back to slog.Default.
func NewHTTPInvoker(client *http.Client, logger *slog.Logger) *HTTPInvoker {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPInvoker{client: client, logger: logger}
}

// Invoke implements Invoker. Timeouts and 5xx responses are retried per
// the call's policy; 4xx responses abort immediately since repeating the
// same request cannot change the outcome.
func (h *HTTPInvoker) Invoke(ctx context.Context, call Call) (map[string]string, error) {
	var body []byte

	attempt := 0
	err := retry.Do(ctx, call.Retry, func() error {
		attempt++
		respBody, err := h.attempt(ctx, call)
		if err != nil {
			h.logger.Warn("external call attempt failed",
				"url", call.URL, "attempt", attempt, "error", err)
			return err
		}
		body = respBody
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "extcall", "Invoke", fmt.Sprintf("%s %s", call.Method, call.URL))
	}

	return extract(body, call.Responses), nil
}

func (h *HTTPInvoker) attempt(ctx context.Context, call Call) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, call.Timeout)
	defer cancel()

	var reqBody io.Reader
	if call.Body != "" {
		reqBody = strings.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, call.Method, call.URL, reqBody)
	if err != nil {
		return nil, retry.NonRetryable(err)
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}
	if call.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err // timeouts and transport errors are retryable
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	default:
		return nil, retry.NonRetryable(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// extract pulls the configured gjson paths out of the response body.
// Missing paths are skipped rather than stored as empty strings.
func extract(body []byte, responses map[string]string) map[string]string {
	vars := make(map[string]string, len(responses))
	for name, path := range responses {
		result := gjson.GetBytes(body, path)
		if result.Exists() {
			vars[name] = result.String()
		}
	}
	return vars
}
