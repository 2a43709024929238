// Package logs reads the daemon's log file and event journal for the CLI.
//
// Tail returns the last N lines or everything after a byte offset, and in
// follow mode waits for new lines to appear. A Match function narrows output
// to lines that mention one workflow. All reads go through an afero.Fs so the
// same code serves the real filesystem and in-memory tests.
package logs
