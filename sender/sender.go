package sender

import (
	"context"
	"time"
)

// Kind distinguishes window-gated free-form text from pre-approved
// templates, which bypass the window by channel policy.
type Kind string

// Outbound message kinds.
const (
	KindFreeform Kind = "freeform"
	KindTemplate Kind = "template"
)

// Message is one outbound send.
type Message struct {
	EventID     string            `json:"event_id"`
	TenantID    string            `json:"tenant_id"`
	To          string            `json:"to"`
	Kind        Kind              `json:"kind"`
	Text        string            `json:"text,omitempty"`
	TemplateRef string            `json:"template_ref,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	SentAt      time.Time         `json:"sent_at"`
}

// Sender is the outbound capability consumed by the engine.
type Sender interface {
	// SendFreeform delivers free-form text. The caller has already
	// checked the messaging window.
	SendFreeform(ctx context.Context, msg Message) error
	// SendTemplate delivers a pre-approved template.
	SendTemplate(ctx context.Context, msg Message) error
}
