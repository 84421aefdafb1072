// Package config loads, normalizes, and validates m2mconv configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours the M2MCONV_DEVICE environment fallback. The Config
// type holds the converter backend and device node, the input stream layout,
// the list of output streams, and the directories used for run state, logs
// and converted images.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical pixel format codes, and clear validation errors.
package config
