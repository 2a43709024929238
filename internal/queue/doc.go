// Package queue decides which Pending workflows start next.
//
// Enqueued workflows sit in an admission pool. Each scheduling tick detects
// stalled stages, snapshots per-therapist load, scores every pooled workflow
// and starts the best candidates until the workflow ceiling is reached.
// Ticks run on an interval and immediately after Enqueue while the system is
// lightly loaded.
package queue
