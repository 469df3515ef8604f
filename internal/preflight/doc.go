// Package preflight provides readiness checks for the registry, local
// directories and Houdini runtimes that assetlib depends on.
//
// The CLI "assetlib doctor" command renders RunAll as status lines, and the
// local API exposes the same results. Optional checks (the headless runtime)
// report a warning instead of a failure.
package preflight
