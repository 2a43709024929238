// Package events routes workflow, stage, error and agent status events.
//
// The Router stamps each event with a monotonic ULID and a sequence number and
// keeps the most recent events in a bounded ring buffer. Synchronous sinks
// (such as the JSONL Archive) see every event as it is published; consumers
// registered through Consume receive events at least once, advancing their
// cursor only after the handler succeeds. Consumers must treat events as
// idempotent by (workflow_id, type, timestamp); Deduper helps with that.
package events
