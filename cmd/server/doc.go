// Package main is the entry point for the terminal session server.
//
// The server supervises interactive shell sessions over WebSocket
// transports, each optionally paired with a forwarded program whose output
// is merged into the session stream.
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML config file (-config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	./server -port 8005 -data /var/lib/gamedeck
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown (all sessions closed through the
//     termination escalator)
package main
