// Package workflow owns the per-assessment stage state machine.
//
// A Manager holds every workflow in memory, persists each transition through
// a Store, and runs one goroutine per started workflow. That goroutine walks
// the fixed stage list (assessment, analysis, documentation) in order,
// dispatching each stage to the agent pool. Failures are classified and handed
// to the recovery Handler, which either resets the stage for another try or
// fails the workflow. The Manager also enforces the concurrency ceiling on
// InProgress workflows.
package workflow
