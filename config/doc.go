// Package config loads the service configuration: defaults first, then an
// optional JSON file, then PYTAKE_* environment overrides for the values
// that differ per deployment. Durations are written as Go duration strings
// ("24h", "90s") in both the file and the environment.
package config
