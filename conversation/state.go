package conversation

import (
	"fmt"
	"strings"
	"time"
)

// RunState describes where a conversation is in its lifecycle.
type RunState string

// Conversation lifecycle states.
const (
	// RunStateRunning means the engine is mid-loop; only ever persisted
	// transiently (a crash mid-event leaves this state behind).
	RunStateRunning RunState = "running"
	// RunStateAwaitingInput means a question node is waiting for the
	// contact's next message.
	RunStateAwaitingInput RunState = "awaiting_input"
	// RunStateCompleted means an end node was reached.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means execution aborted; the contact stops
	// receiving automated replies.
	RunStateFailed RunState = "failed"
	// RunStateExpired means the session idle TTL lapsed before the
	// conversation finished.
	RunStateExpired RunState = "expired"
)

// MaxExecutionPath bounds the per-conversation node trail kept for
// diagnostics and loop analysis.
const MaxExecutionPath = 200

// Key identifies one conversation record.
type Key struct {
	TenantID string
	Contact  string
	FlowID   string
}

// String renders the key in the canonical "tenant.contact.flow" form used
// as the KV key. Characters NATS KV keys cannot carry (a contact address
// like "+5511999990000") are mapped to '-'.
func (k Key) String() string {
	return sanitizeKeyPart(k.TenantID) + "." + sanitizeKeyPart(k.Contact) + "." + sanitizeKeyPart(k.FlowID)
}

// ParseKey is the inverse of Key.String for keys produced by it.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("malformed conversation key %q", s)
	}
	return Key{TenantID: parts[0], Contact: parts[1], FlowID: parts[2]}, nil
}

func sanitizeKeyPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

// State is the durable record of one contact's progress through one flow.
// CurrentNodeID plus Variables is the entire continuation: nothing about
// an in-flight conversation lives only in memory, so a process restart
// resumes exactly where the last persisted event left off.
type State struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Contact  string `json:"contact"`
	FlowID   string `json:"flow_id"`

	// ActiveFlowID is the flow currently being executed. It diverges from
	// FlowID after a jump node; FlowID stays fixed because it is part of
	// the record's key.
	ActiveFlowID string `json:"active_flow_id,omitempty"`

	// CurrentNodeID is non-empty exactly when RunState is running or
	// awaiting input.
	CurrentNodeID string            `json:"current_node_id,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	ExecutionPath []string          `json:"execution_path,omitempty"`
	RunState      RunState          `json:"run_state"`
	LastError     string            `json:"last_error,omitempty"`

	LastMessageAt    time.Time `json:"last_message_at"`
	SessionExpiresAt time.Time `json:"session_expires_at"`

	Window Window `json:"window"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the store's optimistic-lock counter (the KV revision).
	// Zero means the record has not been persisted yet. Never serialized;
	// the store owns it.
	Version uint64 `json:"-"`
}

// Key returns the record's identifying key.
func (s *State) Key() Key {
	return Key{TenantID: s.TenantID, Contact: s.Contact, FlowID: s.FlowID}
}

// CurrentFlowID returns the flow being executed, accounting for jumps.
func (s *State) CurrentFlowID() string {
	if s.ActiveFlowID != "" {
		return s.ActiveFlowID
	}
	return s.FlowID
}

// Active reports whether the conversation is still progressing, i.e.
// CurrentNodeID must be set.
func (s *State) Active() bool {
	return s.RunState == RunStateRunning || s.RunState == RunStateAwaitingInput
}

// Terminal reports whether the conversation has finished for good.
func (s *State) Terminal() bool {
	return s.RunState == RunStateCompleted || s.RunState == RunStateFailed || s.RunState == RunStateExpired
}

// SessionExpired reports whether the idle TTL has lapsed.
func (s *State) SessionExpired(now time.Time) bool {
	return !s.SessionExpiresAt.IsZero() && !now.Before(s.SessionExpiresAt)
}

// Consistent checks the CurrentNodeID/RunState invariant.
func (s *State) Consistent() bool {
	return (s.CurrentNodeID != "") == s.Active()
}

// AppendPath records a visited node, keeping only the most recent
// MaxExecutionPath entries.
func (s *State) AppendPath(nodeID string) {
	s.ExecutionPath = append(s.ExecutionPath, nodeID)
	if overflow := len(s.ExecutionPath) - MaxExecutionPath; overflow > 0 {
		s.ExecutionPath = s.ExecutionPath[overflow:]
	}
}

// SetVariable sets one variable, allocating the map on first use.
func (s *State) SetVariable(name, value string) {
	if s.Variables == nil {
		s.Variables = make(map[string]string)
	}
	s.Variables[name] = value
}

// Fail marks the conversation failed with the given reason.
func (s *State) Fail(reason string) {
	s.RunState = RunStateFailed
	s.CurrentNodeID = ""
	s.LastError = reason
}

// Expire marks an idle conversation expired once its session TTL lapses.
func (s *State) Expire() {
	s.RunState = RunStateExpired
	s.CurrentNodeID = ""
}

// Complete marks the conversation finished.
func (s *State) Complete() {
	s.RunState = RunStateCompleted
	s.CurrentNodeID = ""
	s.LastError = ""
}
