// Package engine executes conversation flows one inbound message at a
// time. HandleInboundMessage loads (or creates) the durable conversation
// state for a (tenant, contact, flow) key, reopens the messaging window
// (any customer message does, regardless of flow state), and runs node
// handlers from the current position until the flow asks a question,
// ends, fails, or hits the iteration cap.
//
// The continuation is nothing but the persisted current node id plus the
// variable map, so a process restart resumes exactly where the last event
// left off. Events for the same conversation are serialized by a per-key
// lock in-process and by the store's compare-and-swap version across
// processes; two racing events can never both commit from the same base
// version.
//
// Outbound messages accumulate during the node loop and are dispatched
// only after it finishes, each gated by the messaging window at send
// time. A blocked free-form send surfaces ErrWindowExpired to the caller
// rather than being downgraded to a template; that substitution is a
// business decision the engine does not own.
package engine
