// Package main hosts the assetlib CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into registry
// reads, checkout and check-in requests, archive fetches, DCC launches and
// the local API daemon. It centralizes configuration resolution, logging and
// tracing setup so subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
