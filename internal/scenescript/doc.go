// Package scenescript renders the hython script that turns the template scene
// into a per-asset scene file.
//
// The generator is pure templating: every value is emitted as an escaped
// Python string literal, and the checkout flag is the only state-dependent
// token in the output.
package scenescript
