// Package logging provides structured logging for the bridge.
//
// This package wraps Go's standard log/slog package so every component
// logs through the same handler with the same default fields.
//
// # Features
//
//   - JSON output for log shippers
//   - Coloured console output for terminals
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"       # debug, info, warn, error
//	  format: "console"   # console, json, text
//	  output: "stdout"    # stdout, stderr
//
// # Security
//
// Never log the Blynk token or MQTT password.
package logging
