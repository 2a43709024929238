// Package services defines shared utilities consumed by the workflow manager,
// the error handler and the agent pool.
//
// Key responsibilities:
//   - Context helpers that stamp workflow IDs, stage names, agent types and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified into error categories with errors.Is instead of string
//     matching.
//
// Use these helpers when wiring new agents or collaborators so operational
// behaviour (error classification, observability, retries) stays uniform
// across the pipeline.
package services
