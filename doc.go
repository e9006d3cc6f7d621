// Package pytake is a conversation automation engine for asynchronous
// messaging channels. It interprets user-authored conversation graphs
// ("flows") against durable per-contact state, advancing one inbound
// message at a time, and enforces the channel rule that free-form replies
// are only permitted within a rolling 24-hour window after the contact
// last spoke.
//
// The module is organized as a set of small packages wired together by
// cmd/pytake:
//
//	engine        flow executor and node handlers
//	flowstore     flow definitions and their NATS KV persistence
//	conversation  durable per-contact conversation state and message window
//	sweeper       background reconciliation of expired windows
//	sender        outbound message dispatch
//	extcall       external HTTP call capability for flows
//	gateway       inbound webhook HTTP adapter
//
// Persistence is NATS JetStream KV throughout; conversation state updates
// use compare-and-swap on the KV revision so concurrent webhook deliveries
// for the same contact never produce lost updates.
package pytake
