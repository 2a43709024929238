// Command assessflow runs the assessment workflow daemon and talks to it
// over its Unix socket.
//
// The daemon is started with `assessflow daemon run`. Every other command
// except `config init` and `schema` dials the socket named by --socket or
// paths.socket_path from the configuration file.
package main
