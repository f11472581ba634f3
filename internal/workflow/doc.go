// Package workflow runs queued transcoding jobs.
//
// The Manager starts a fixed pool of workers plus a lease reclaimer. Each
// worker claims one job at a time under a lease, renews the lease while the
// executor runs and then records the outcome. Transient failures go back to
// the queue with exponential backoff until the attempt budget is spent;
// permanent failures mark the artifact failed. Results for entities that were
// tombstoned while the job ran are discarded together with their output.
//
// Jobs of the same entity are independent; nothing serializes them.
package workflow
