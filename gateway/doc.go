// Package gateway is the HTTP surface of the service: the webhook endpoint
// that feeds inbound channel events to the engine, the trigger endpoint for
// business-initiated flow starts, flow administration, and the health and
// metrics mounts.
//
// The gateway owns channel-facing concerns the engine deliberately does
// not: request validation, bounded retry of version-conflicted events, and
// mapping engine outcomes to HTTP status codes. Duplicate webhook
// deliveries are the channel's problem and are answered idempotently with
// whatever the engine decides.
package gateway
