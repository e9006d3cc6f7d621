package extcall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkayo32/pytake-sub013/pkg/retry"
)

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestInvokeExtractsResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customer":{"id":"c-42","score":87.5},"tags":["vip"]}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.Client(), nil)
	vars, err := inv.Invoke(context.Background(), Call{
		URL:     srv.URL,
		Method:  "POST",
		Body:    `{"phone":"+5511999990000"}`,
		Timeout: time.Second,
		Responses: map[string]string{
			"customer_id": "customer.id",
			"score":       "customer.score",
			"first_tag":   "tags.0",
			"missing":     "customer.plan",
		},
		Retry: fastRetry(1),
	})
	require.NoError(t, err)

	assert.Equal(t, "c-42", vars["customer_id"])
	assert.Equal(t, "87.5", vars["score"])
	assert.Equal(t, "vip", vars["first_tag"])
	_, ok := vars["missing"]
	assert.False(t, ok, "absent paths yield no variable, not an empty one")
}

func TestInvokeRetriesTimeoutsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// First two attempts stall past the per-attempt timeout.
		if calls.Add(1) <= 2 {
			time.Sleep(200 * time.Millisecond)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.Client(), nil)
	vars, err := inv.Invoke(context.Background(), Call{
		URL:       srv.URL,
		Method:    "GET",
		Timeout:   50 * time.Millisecond,
		Responses: map[string]string{"ok": "ok"},
		Retry:     fastRetry(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "true", vars["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvokeRetries5xxButNot4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.Client(), nil)
	_, err := inv.Invoke(context.Background(), Call{
		URL: srv.URL, Method: "GET", Timeout: time.Second, Retry: fastRetry(3),
	})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "5xx is retried to exhaustion")

	var badReqCalls atomic.Int32
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		badReqCalls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv2.Close()

	_, err = inv.Invoke(context.Background(), Call{
		URL: srv2.URL, Method: "GET", Timeout: time.Second, Retry: fastRetry(3),
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), badReqCalls.Load(), "4xx aborts immediately")
}

func TestFromConfig(t *testing.T) {
	call, err := FromConfig(map[string]any{
		"url":    "https://api.example.com/enrich",
		"method": "POST",
		"headers": map[string]any{
			"Authorization": "Bearer {{api_token}}",
		},
		"body":    `{"phone":"{{contact}}"}`,
		"timeout": "2s",
		"responses": map[string]any{
			"customer_id": "customer.id",
		},
		"retry": map[string]any{
			"max_attempts":  3.0, // JSON numbers arrive as float64
			"initial_delay": "10ms",
			"max_delay":     "100ms",
			"multiplier":    2.0,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "POST", call.Method)
	assert.Equal(t, 2*time.Second, call.Timeout)
	assert.Equal(t, 3, call.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, call.Retry.InitialDelay)
	assert.Equal(t, "customer.id", call.Responses["customer_id"])
	assert.Equal(t, "Bearer {{api_token}}", call.Headers["Authorization"])
}

func TestFromConfigDefaults(t *testing.T) {
	call, err := FromConfig(map[string]any{"url": "https://api.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "GET", call.Method)
	assert.Equal(t, DefaultTimeout, call.Timeout)
	assert.Equal(t, 1, call.Retry.MaxAttempts)
}

func TestFromConfigTimeoutForms(t *testing.T) {
	cases := []struct {
		name    string
		timeout any
		want    time.Duration
		wantErr bool
	}{
		{name: "duration string", timeout: "90s", want: 90 * time.Second},
		{name: "integer seconds", timeout: 5, want: 5 * time.Second},
		{name: "json number seconds", timeout: 3.0, want: 3 * time.Second},
		{name: "bad string", timeout: "soon", wantErr: true},
		{name: "unsupported type", timeout: true, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			call, err := FromConfig(map[string]any{
				"url":     "https://api.example.com",
				"timeout": tc.timeout,
			})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, call.Timeout)
		})
	}
}

func TestFromConfigRequiresURL(t *testing.T) {
	_, err := FromConfig(map[string]any{"method": "GET"})
	assert.Error(t, err)
}
