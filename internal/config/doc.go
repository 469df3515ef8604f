// Package config loads, normalizes, and validates assetlib configuration data.
//
// It supplies per-platform defaults for Houdini discovery, expands user paths
// (including tilde shortcuts), reads TOML files, and layers ASSETLIB_* and HFS
// environment variables on top. The Config type centralizes every knob the CLI
// and the local API need, so the downloads root, registry endpoint and script
// locations are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
