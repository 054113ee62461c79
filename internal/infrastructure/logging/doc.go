// Package logging provides structured logging for the exmebus gateway.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across both binaries.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for bench work (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The -d flag raises the level to debug; -dd also logs raw payloads.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "exmebusgw", version)
//	logger.Info("collector connected", "address", addr)
//	logger.Error("write failed", "error", err)
//
// Never log MQTT or InfluxDB credentials.
package logging
