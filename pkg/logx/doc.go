// Package logx configures zwboot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional uplink sink (min-level + rate limiting) for diagnostics
package logx
