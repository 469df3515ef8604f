// Package checkout enforces at-most-one active editor per asset.
//
// Lock state lives only in the registry; the Coordinator re-reads it before
// every decision and never caches it. Check-in is modelled as a two-phase
// saga (content upload, then metadata commit) journaled in SQLite so a
// metadata failure after a successful upload is reported as a
// PartialCheckinError and can be finished later with ResumeCheckin.
package checkout
