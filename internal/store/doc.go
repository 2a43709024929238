// Package store persists workflows, error records, recovery attempts and
// routed events.
//
// The SQLite Store follows a fixed embedded schema guarded by a
// schema_version row; a database written by a different version is refused
// with ErrSchemaMismatch instead of migrated. Memory satisfies the same
// interfaces for tests and for running without a database.
package store
