// Package config loads, normalizes, and validates nori watch configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// NORI_API_TOKEN and NORI_ORG_ID. The Config type centralizes every knob the
// daemon and CLI need: where the agent writes sessions, how the cache is
// scanned, and where transcripts are uploaded.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
