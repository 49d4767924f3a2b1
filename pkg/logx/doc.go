// Package logx configures viewbot's structured logging.
//
// A small value type (logx.Logger) wraps zerolog and keeps:
//   - console output short (timestamp + file:line caller)
//   - file output as JSON lines
//   - an optional ops channel sink that forwards warnings to a chat channel
package logx
