// Package config loads, normalizes, and validates downnest configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DOWNNEST_NTFY_TOPIC. The Config type centralizes every knob the daemon and
// CLI need: watched directories, the stability and settle policy, the ordered
// category table, pool sizing, and notification settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical extensions, and clear validation errors.
package config
