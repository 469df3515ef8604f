// Package journal persists check-in sagas in SQLite so a check-in whose
// content upload succeeded but whose metadata commit failed can be resumed
// later, even from a different process.
//
// Transitions are guarded in SQL: each update names the state it expects and
// fails with ErrInvalidTransition if the row has moved on.
package journal
