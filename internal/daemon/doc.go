// Package daemon coordinates the long-running assessflow process.
//
// It wires configuration, persistence, the message router, the agent pool,
// the workflow manager and the scheduling queue into a single lifecycle with
// flock-based locking to prevent multiple instances. On start it restores
// persisted workflows, reclaims the ones a previous process left running and
// re-enqueues them.
//
// Keep orchestration logic here: scheduling belongs to queue and stage
// execution to workflow, while the daemon focuses on startup, shutdown and
// the operations exposed over IPC.
package daemon
