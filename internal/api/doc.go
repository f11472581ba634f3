// Package api exposes the pipeline's event contract over HTTP.
//
// Routes:
//
//	POST   /api/v1/entities        register an upload and enqueue its jobs (202)
//	GET    /api/v1/entities/{id}   entity status and artifacts
//	DELETE /api/v1/entities/{id}   tombstone and clean up (204)
//	GET    /api/v1/jobs            queued jobs, filterable by status and entity
//	GET    /healthz                queue database reachability
//	GET    /metrics                Prometheus collectors
//
// Mutating routes are rate limited per client IP. Payloads use camelCase JSON
// field names; timestamps are RFC3339 with millisecond precision.
package api
