// Package agent defines the contract the workflow core uses to run a stage
// and the machinery that dispatches stage work to agents.
//
// An Agent only has to report its type and execute a StageInput. Session
// bookkeeping (status, concurrency limits, context validation, error counts)
// lives in SessionTracker, which the Pool composes around every call so agent
// implementations stay free of it.
package agent
