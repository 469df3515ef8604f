// Package services defines shared utilities consumed by the checkout
// coordinator, the launch pipeline and the registry integration.
//
// Key responsibilities:
//   - Context helpers that stamp launch job IDs, asset names, stage names and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (conflict, missing archive, partial check-in) with errors.Is.
//   - Kind and Hint, which turn a marker into a stable label and a user-facing
//     next step for CLI output and HTTP responses.
package services
