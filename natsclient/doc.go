// Package natsclient manages the NATS connection and JetStream key-value
// buckets used for persistence. Conversation state and flow definitions
// both live in KV buckets; the KVStore wrapper exposes entries together
// with their revision so callers can perform compare-and-swap updates,
// which is how the engine detects concurrent writers for the same
// conversation.
package natsclient
