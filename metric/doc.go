// Package metric wraps a dedicated Prometheus registry so every component
// registers its metrics through one place, with duplicate-registration
// detection by (component, metric) key. The registry serves its own
// /metrics handler; nothing is registered against the Prometheus default
// registry.
package metric
