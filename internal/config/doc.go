// Package config loads, normalizes, and validates futurebuild configuration.
//
// It supplies repository defaults that mirror the futurecoder container
// recipe, expands user paths (including tilde shortcuts), reads TOML files,
// and honours environment overrides such as FUTUREBUILD_PRECACHE. The Config
// type centralizes every knob the pipeline and the runtime launcher need.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical modes, and clear validation errors.
package config
