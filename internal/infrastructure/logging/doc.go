// Package logging provides structured logging for gridhost.
//
// It wraps log/slog so that every component logs with the same default
// fields (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	wsLog := logger.Component("websocket")
//	wsLog.Info("listener connected", "listener", id)
//
// Never log credentials. Event payloads are logged by size only.
package logging
