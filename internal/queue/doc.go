// Package queue persists media entities, their derived artifacts and the
// transcoding jobs that produce them in SQLite.
//
// The Store is the only shared mutable resource between the daemon's worker
// pool, the event API and the CLI. Job claims are single UPDATE ... RETURNING
// statements so two workers never hold the same job within its lease, and
// every job transition recomputes the owning entity's status in the same
// transaction. Results for tombstoned entities are rejected with
// ErrEntityGone, which is how deletion wins over in-flight work.
//
// Schema changes bump schemaVersion in schema.go; operators delete the
// database to adopt a new schema.
package queue
