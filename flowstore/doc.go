// Package flowstore defines conversation flow graphs and persists them in
// a NATS KV bucket. A Flow is a directed graph of nodes (message, question,
// condition, assignment, external-call, jump, end) with exactly one start
// node; Validate enforces the structural invariants the engine relies on
// at runtime, so a published flow never has dangling node references.
//
// Published flows are immutable from the engine's point of view, which is
// why the store may serve reads from an in-process TTL cache: a cached
// definition can be outdated only across explicit re-publishes, never
// mid-conversation.
//
// Flows can also be authored as YAML seed files and loaded with LoadDir;
// cmd/pytake publishes seeds into the store at startup.
package flowstore
