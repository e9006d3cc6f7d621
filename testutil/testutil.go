package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/extcall"
	"github.com/xkayo32/pytake-sub013/flowstore"
	"github.com/xkayo32/pytake-sub013/sender"
)

// Clock is a settable clock for pinning time in tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock pinned to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the pinned instant. Pass the method value as Options.Now.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// CaptureSender records outbound messages instead of delivering them.
// FreeformErr and TemplateErr, when set, are returned on every matching
// send.
type CaptureSender struct {
	mu        sync.Mutex
	freeform  []sender.Message
	templates []sender.Message

	FreeformErr error
	TemplateErr error
}

// SendFreeform implements sender.Sender.
func (s *CaptureSender) SendFreeform(_ context.Context, msg sender.Message) error {
	if s.FreeformErr != nil {
		return s.FreeformErr
	}
	s.mu.Lock()
	s.freeform = append(s.freeform, msg)
	s.mu.Unlock()
	return nil
}

// SendTemplate implements sender.Sender.
func (s *CaptureSender) SendTemplate(_ context.Context, msg sender.Message) error {
	if s.TemplateErr != nil {
		return s.TemplateErr
	}
	s.mu.Lock()
	s.templates = append(s.templates, msg)
	s.mu.Unlock()
	return nil
}

// Freeform returns the free-form messages sent so far.
func (s *CaptureSender) Freeform() []sender.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sender.Message(nil), s.freeform...)
}

// Templates returns the template messages sent so far.
func (s *CaptureSender) Templates() []sender.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sender.Message(nil), s.templates...)
}

// Texts returns the free-form message bodies in send order.
func (s *CaptureSender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, len(s.freeform))
	for i, msg := range s.freeform {
		texts[i] = msg.Text
	}
	return texts
}

// Reset drops everything captured so far.
func (s *CaptureSender) Reset() {
	s.mu.Lock()
	s.freeform = nil
	s.templates = nil
	s.mu.Unlock()
}

// StaticFlows is a flowstore.Getter backed by a plain map.
type StaticFlows map[string]*flowstore.Flow

// Get implements flowstore.Getter.
func (f StaticFlows) Get(_ context.Context, id string) (*flowstore.Flow, error) {
	flow, ok := f[id]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("flow %s: %w", id, errors.ErrNotFound),
			"testutil", "Get", "lookup flow")
	}
	return flow, nil
}

// InvokerFunc adapts a function to extcall.Invoker.
type InvokerFunc func(ctx context.Context, call extcall.Call) (map[string]string, error)

// Invoke implements extcall.Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, call extcall.Call) (map[string]string, error) {
	return f(ctx, call)
}
