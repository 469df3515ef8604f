// Package api defines wire-format types and converters for the local HTTP
// API. It translates check-in sagas, launch jobs and tool discovery results
// into transport-friendly DTOs so clients do not couple to internal types.
//
// # Key Types
//
// Checkin: a two-phase check-in saga with its commit status and version map.
//
// Job: a launch job with its pipeline state and per-process outcomes.
//
// DependencyStatus: availability of one DCC runtime.
//
// ErrorResponse: the error envelope, carrying the services.Kind label, an
// optional hint and, for partial check-ins, the saga id to resume.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Registry assets are passed through as registry.Asset, whose tags already
// mirror the registry wire format.
package api
