// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. The
// server wraps a running daemon; the client is a thin typed facade over
// net/rpc so commands fail fast when the daemon is offline.
package ipc
