// Package config loads, normalizes, and validates desceval configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REDIS_URL and LLM_API_KEY. The Config type centralizes every knob the
// daemon, workers, and CLI need, so Redis coordinates, evaluation tuning,
// and external service credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
