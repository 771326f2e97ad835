// Package config provides 12-factor configuration for the session server.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional YAML file supplies base values that the environment overrides.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Session: shell, reaper interval, disconnect/idle TTLs
//   - Store: session record persistence directory
//   - Logging: log level and output format
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, DATA_DIR
//   - SESSION_SHELL, SESSION_REAPER_INTERVAL, SESSION_DISCONNECT_TTL, SESSION_IDLE_TTL
//   - LOG_LEVEL, LOG_DEV
package config
