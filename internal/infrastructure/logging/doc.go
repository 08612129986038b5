// Package logging provides structured logging for the node.
//
// It wraps log/slog: JSON output for production, text for development,
// and service/version attributes on every record.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components receive a child logger from Component and log state changes as
// key/value pairs:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("routing").Info("route changed", "receiver_id", id)
//
// Never log registry tokens, MQTT passwords or JWT secrets.
package logging
