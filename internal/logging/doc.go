// Package logging assembles structured slog loggers and formatting helpers used
// across the stylizer daemon and CLI.
//
// It owns the configurable console/JSON handlers, tees records into the JSON log
// file under the configured log directory, and exposes context-aware helpers so
// request and job code can tag log lines with job IDs and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot fail.
package logging
