// Package log provides structured logging with automatic sanitization of
// sensitive values, built on top of the standard slog package.
//
// Reconnaissance pipelines log data they did not author: stream payloads,
// launch descriptors, and worker errors can all carry credentials that a
// module discovered or that an operator configured. The SanitizingHandler
// masks attribute values that look like secrets (tokens, passwords, API
// keys, session identifiers) before they reach the underlying text or JSON
// handler, so verbose logging never becomes an exfiltration channel.
//
// Usage:
//
//	logger := log.NewLogger(os.Stderr, verbose)
//	logger.Info("worker launched",
//	    "module", "port_scan",
//	    "api_key", "sk-abc123", // masked in output
//	)
//	slog.SetDefault(logger)
package log
