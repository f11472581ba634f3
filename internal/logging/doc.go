// Package logging assembles structured slog loggers and formatting helpers used
// across vidpipe services.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so job code can automatically tag log
// lines with entity IDs, job IDs, job kinds, and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
