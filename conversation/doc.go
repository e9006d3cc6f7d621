// Package conversation holds the durable per-contact state the flow
// engine reads and writes: where the contact is in a flow, the collected
// variables, and the messaging window that gates free-form sends.
//
// One State record exists per (tenant, contact address, flow id). Records
// are persisted as JSON in a NATS KV bucket; the KV revision doubles as
// the optimistic-lock version, so two webhook deliveries racing on the
// same conversation can never both commit from the same base revision.
// A pure in-memory Store with the same semantics backs tests and local
// development.
package conversation
