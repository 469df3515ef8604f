// Package launch orchestrates opening an asset in Houdini.
//
// A launch moves through Idle, Staged, ScriptWritten, HeadlessBuildComplete
// and InteractiveLaunched. Staging, the checkout-state lookup, script
// generation and tool discovery run synchronously inside Launch; any failure
// there halts before a process is spawned. Once Launch returns, a background
// task runs hython to exit and then starts houdini. Process failures after
// that point are only visible through structured logs and Job.Wait.
//
// Launches of the same asset are queued behind a per-asset gate (an
// in-process mutex plus a file lock in the state directory) that is held
// from staging until the headless build exits.
package launch
