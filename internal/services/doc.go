// Package services defines shared utilities consumed by the pipeline
// components and their external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp entity IDs, job IDs, job kinds, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into retryable and permanent outcomes for the worker pool.
//
// Use these helpers when wiring new job logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
