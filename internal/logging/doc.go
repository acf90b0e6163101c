// Package logging provides structured logging for the roombot control plane.
//
// This package wraps Go's log/slog to emit JSON-formatted logs with persistent
// context attributes, so every line written while handling a bot can be
// traced back to its room, bot id and backend.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR), adjustable at runtime
//   - Context propagation (room_url, bot_id, backend)
//   - Size-based log rotation with optional gzip compression
//   - Reading and filtering a log file for the `roombot logs` command
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying handler and writer.
//
// # Basic Usage
//
//	logger, err := logging.NewFileLogger("/var/log/roombot/roombot.log", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithRoom(roomURL).WithBot(botID).Info("bot spawned", "backend", "local")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"bot spawned","room_url":"https://...","bot_id":"b1","backend":"local"}
//
// # Testing
//
// Use [NopLogger] to discard all output:
//
//	logger := logging.NopLogger()
//
// # Reading Logs
//
//	entries, err := logging.ReadLogs("/var/log/roombot/roombot.log")
//	filtered := logging.FilterLogs(entries, logging.LogFilter{BotID: "b1", Level: "WARN"})
//	logging.WriteEntries(os.Stdout, filtered, "text")
package logging
