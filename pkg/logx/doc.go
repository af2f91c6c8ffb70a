// Package logx configures the bot's structured logging.
//
// Logger wraps zerolog with fixed fields and a zero value that discards.
// Service owns the sinks and can be reconfigured while running:
//   - console output with short timestamps and callers
//   - JSON lines in a size-rotated file (lumberjack)
//   - an HTML digest posted to the log group, rate-limited and filtered by
//     level
//
// Every sink masks bot tokens before writing.
package logx
