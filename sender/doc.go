// Package sender defines the outbound message capability the engine
// consumes and an adapter that publishes sends onto NATS subjects for the
// channel bridge to deliver. The engine never talks to the channel API
// directly: it asks the window gate whether a free-form send is allowed
// and hands the approved message to a Sender.
//
// The NATS adapter rate-limits publishes because messaging channel APIs
// throttle aggressively; a burst of node-produced messages is smoothed
// rather than rejected downstream.
package sender
