// Package recovery classifies workflow failures, records them, and attempts
// bounded automatic recovery.
//
// Every failure becomes an append-only ErrorRecord. High and Critical
// failures fail the workflow immediately through the Controller; everything
// except Critical then gets one recovery attempt, drawn from a budget shared
// across categories for the lifetime of the workflow.
package recovery
