package conversation

import "time"

// DefaultWindowDuration is the channel-imposed rolling window during which
// free-form replies are permitted after the contact's last message.
const DefaultWindowDuration = 24 * time.Hour

// Window tracks the messaging window for one conversation.
//
// IsOpen is a cached convenience flag reconciled lazily by the sweeper;
// send decisions never trust it. CanSendFreeform always recomputes from
// ExpiresAt, so a stale flag can never produce an incorrect send.
type Window struct {
	ExpiresAt              time.Time `json:"expires_at"`
	LastUserMessageAt      time.Time `json:"last_user_message_at"`
	LastOutboundTemplateAt time.Time `json:"last_outbound_template_at,omitempty"`
	IsOpen                 bool      `json:"is_open"`
}

// CanSendFreeform reports whether a free-form message may be sent at now.
// This is the sole source of truth for send decisions.
func (w *Window) CanSendFreeform(now time.Time) bool {
	return now.Before(w.ExpiresAt)
}

// CanSendTemplate reports whether a template message may be sent. Templates
// bypass the window by channel policy, so this is always true; the method
// exists so gating call sites read uniformly.
func (w *Window) CanSendTemplate(time.Time) bool {
	return true
}

// ResetOnInboundUserMessage reopens the window: any customer message
// restarts the clock regardless of flow state.
func (w *Window) ResetOnInboundUserMessage(now time.Time, duration time.Duration) {
	if duration <= 0 {
		duration = DefaultWindowDuration
	}
	w.LastUserMessageAt = now
	w.ExpiresAt = now.Add(duration)
	w.IsOpen = true
}

// ExtendOnOutboundTemplate applies the same extension semantics for a
// business-initiated template send, recorded separately so audits can tell
// who opened the window.
func (w *Window) ExtendOnOutboundTemplate(now time.Time, duration time.Duration) {
	if duration <= 0 {
		duration = DefaultWindowDuration
	}
	w.LastOutboundTemplateAt = now
	w.ExpiresAt = now.Add(duration)
	w.IsOpen = true
}

// Reconcile updates the cached IsOpen flag from ExpiresAt, returning true
// when the flag changed. Used by the sweeper; never consulted for sends.
func (w *Window) Reconcile(now time.Time) bool {
	open := w.CanSendFreeform(now)
	if w.IsOpen == open {
		return false
	}
	w.IsOpen = open
	return true
}
