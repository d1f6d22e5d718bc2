// Package jobs holds the in-memory job registry and its state machine.
//
// A job moves along a fixed set of edges:
//
//	queued -> running -> succeeded | failed | cancelled
//	queued -> cancelled
//
// Terminal states are final; the Store rejects any further transition.
// Every accepted mutation produces a snapshot that is fanned out to the
// event hub and, for terminal states, to the ledger.
package jobs
