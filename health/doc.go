// Package health tracks per-component health and aggregates it into a
// single system status served over HTTP.
//
// Components report their own state through the Monitor; nothing here
// probes them. Aggregation is hierarchical: any unhealthy component makes
// the system unhealthy, any degraded component (with none unhealthy) makes
// it degraded, and an empty monitor is healthy by definition.
package health
