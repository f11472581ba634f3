// Package daemon coordinates the long-running vidpipe process.
//
// It wires configuration, queue storage, the worker pool, the cleanup
// reconciler, the watch-folder ingester and the event API into a single
// lifecycle with flock-based locking to prevent multiple instances sharing
// one state directory.
//
// Keep orchestration logic here: job execution, cleanup and ingestion live in
// their respective packages while the daemon focuses on startup, shutdown and
// high level coordination.
package daemon
