// Package logging provides structured logging for the Cybro bridge.
//
// It wraps the standard log/slog package so every component logs through
// the same handler with the same default fields (service, version).
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("coordinator").Info("poll ok", "vars", 42)
//
// Never log secrets, tokens or passwords.
package logging
