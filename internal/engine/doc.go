// Package engine executes histories against a cluster. The scheduler runs
// one goroutine per session, assigning sessions to nodes round robin; the
// orchestrator drives a single history through setup, seeding, execution,
// cleanup and persistence, and a whole directory of histories with
// resumable, idempotent batch semantics.
package engine
