// Package config loads, normalizes, and validates stylizer configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// STYLIZER_UPLOAD_DIR and STYLIZER_API_BIND. The Config type centralizes every
// knob the daemon and CLI need, from the upload staging area to the external
// transfer command line.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
