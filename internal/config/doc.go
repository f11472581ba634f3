// Package config loads, normalizes, and validates vidpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the VIDPIPE_MEDIA_ROOT environment
// override. The Config type centralizes every knob the daemon and CLI need:
// where artifacts live, how ffmpeg is invoked, how the worker pool leases and
// retries jobs, and how deleted entities are cleaned up.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
