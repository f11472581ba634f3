// Package cleanup removes every derived artifact and the source file of a
// deleted entity, and reconciles the media tree against the entity records.
//
// Deletion always tombstones the entity before touching the filesystem, so a
// job that finishes after the removal cannot record its result; the worker
// discards such output instead. Removal failures are recorded on the
// tombstone and retried by the Reconciler.
package cleanup
