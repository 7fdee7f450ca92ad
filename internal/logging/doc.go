// Package logging provides logging utilities for vncgate.
//
// This package provides two categories of output:
//   - Operational logging: structured logs via slog (router, provisioner, relay)
//   - User output: formatted messages for CLI commands
//
// # Operational Logging
//
// Logs are written using slog and controlled by verbosity settings:
//
//	logging.Debug("resolved route", "subject", sub, "key", key)
//	logging.Warn("backend dial failed", "target", target, "error", err)
//
// Long-running components take a *slog.Logger in their config. The CLI
// passes logging.Logger (or logging.With("component", ...)).
//
// # User Output
//
// User-facing messages are formatted with status indicators:
//
//	logging.UserInfo("Listening on %s", addr)
//	logging.UserSuccess("Token minted for %s", subject)
//	logging.UserWarning("No geometry for %s", target)
//	logging.UserError("Probe failed: %v", err)
//
// Output destinations:
//   - UserInfo, UserSuccess: stdout
//   - UserWarning, UserError: stderr
package logging
