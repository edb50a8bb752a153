// Package logx configures convertio's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Repetitive warnings throttled (see Throttle)
package logx
