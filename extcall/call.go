package extcall

import (
	"context"
	"fmt"
	"time"

	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/pkg/retry"
)

// DefaultTimeout bounds a single HTTP attempt when the node does not set
// its own.
const DefaultTimeout = 10 * time.Second

// Call is one fully resolved external call: the engine substitutes flow
// variables into URL, headers, and body before handing it over.
type Call struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// Responses maps flow variable names to gjson paths into the response
	// body. Paths absent from the response are skipped, so a partial
	// response still yields partial variables.
	Responses map[string]string

	// Retry is the node's declared policy.
	Retry retry.Config
}

// Invoker is the external-call capability consumed by the engine.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (map[string]string, error)
}

func configString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

func configStringMap(config map[string]any, key string) map[string]string {
	raw, ok := config[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func configInt(config map[string]any, key string) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func configDuration(config map[string]any, key string) (time.Duration, error) {
	raw, ok := config[key]
	if !ok {
		return 0, nil
	}
	switch v := raw.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("%s: unsupported duration type %T", key, raw)
	}
}

// FromConfig builds a Call from an external_call node's config map. The
// recognized keys are url, method, headers, body, timeout, responses, and
// retry{max_attempts, initial_delay, max_delay, multiplier}.
func FromConfig(config map[string]any) (Call, error) {
	call := Call{
		URL:       configString(config, "url"),
		Method:    configString(config, "method"),
		Headers:   configStringMap(config, "headers"),
		Body:      configString(config, "body"),
		Responses: configStringMap(config, "responses"),
	}
	if call.URL == "" {
		return Call{}, errors.WrapInvalid(fmt.Errorf("external call missing url"), "extcall", "FromConfig", "parse config")
	}
	if call.Method == "" {
		call.Method = "GET"
	}

	timeout, err := configDuration(config, "timeout")
	if err != nil {
		return Call{}, errors.WrapInvalid(err, "extcall", "FromConfig", "parse timeout")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	call.Timeout = timeout

	call.Retry = retry.Config{MaxAttempts: 1, AddJitter: true}
	if rawRetry, ok := config["retry"].(map[string]any); ok {
		call.Retry.MaxAttempts = configInt(rawRetry, "max_attempts")
		if call.Retry.MaxAttempts <= 0 {
			call.Retry.MaxAttempts = 1
		}
		if d, err := configDuration(rawRetry, "initial_delay"); err == nil && d > 0 {
			call.Retry.InitialDelay = d
		}
		if d, err := configDuration(rawRetry, "max_delay"); err == nil && d > 0 {
			call.Retry.MaxDelay = d
		}
		if m, ok := rawRetry["multiplier"].(float64); ok && m >= 1 {
			call.Retry.Multiplier = m
		}
	}

	return call, nil
}
