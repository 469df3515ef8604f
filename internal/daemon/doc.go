// Package daemon runs the long-lived assetlib process behind `assetlib serve`.
//
// It wires the checkout coordinator, archive stager, launch pipeline and tool
// locator behind a loopback HTTP API, with flock-based locking to prevent two
// instances sharing one state directory. Launch jobs accepted over HTTP keep
// running after the request returns; the daemon keeps them observable through
// /api/jobs.
//
// Keep orchestration logic here: the domain behaviour lives in its own
// packages while the daemon focuses on startup, shutdown and transport.
package daemon
