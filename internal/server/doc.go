// Package server wires the session supervisor together and serves it.
//
// It orchestrates:
//   - HTTP routing with Gin (health, metrics, session listings, /ws)
//   - Middleware stack (CORS, request metrics, recovery)
//   - The session registry and its persistence store
//   - The WebSocket transport directory
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Open the session record store
//  4. Start the session registry and its reaper
//  5. Setup HTTP routes and middleware
//  6. Serve until a shutdown signal arrives
//  7. Close all sessions and flush state on exit
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg, logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
