// Package logx configures schedd's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A zero-value Logger usable as a no-op, so library packages never nil-check
package logx
