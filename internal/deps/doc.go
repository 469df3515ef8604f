// Package deps discovers the Houdini runtimes on the local machine.
//
// Candidates come from an optional $HFS override followed by every configured
// install root crossed with every version candidate, rendered through the
// per-platform layout templates. The first existing executable wins.
package deps
