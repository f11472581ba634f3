// Package metrics exposes Prometheus collectors for the transcoding pipeline.
//
// Labels are limited to bounded values (artifact kind, outcome, signal);
// entity and job identifiers never appear as labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsDispatchedTotal counts jobs enqueued by the dispatcher, by kind.
	JobsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_jobs_dispatched_total",
		Help: "Total number of jobs enqueued, by artifact kind.",
	}, []string{"kind"})

	// JobsFinishedTotal counts job executions by kind and outcome
	// (succeeded, retry, failed, discarded, lease_lost, dropped).
	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_jobs_finished_total",
		Help: "Total number of job executions, by artifact kind and outcome.",
	}, []string{"kind", "outcome"})

	// JobDurationSeconds observes executor wall time by kind.
	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidpipe_job_duration_seconds",
		Help:    "Executor wall time per job, by artifact kind.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"kind"})

	// JobsRunning tracks jobs currently executing in this process.
	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidpipe_jobs_running",
		Help: "Current number of jobs executing in this process.",
	})

	// LeasesReclaimedTotal counts expired leases returned to the queue.
	LeasesReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpipe_leases_reclaimed_total",
		Help: "Total number of expired job leases reclaimed.",
	})

	// ToolExitTotal counts external tool exits by tool and result category.
	ToolExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_tool_exit_total",
		Help: "Total number of external tool exits, by tool and result (ok, nonzero, timeout, spawn_error).",
	}, []string{"tool", "result"})

	// ProcTerminateTotal counts process group signals by signal and result.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_proc_terminate_total",
		Help: "Total number of process group termination signals, by signal and result.",
	}, []string{"signal", "result"})

	// CleanupsTotal counts cleanup runs by outcome (complete, incomplete).
	CleanupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_cleanups_total",
		Help: "Total number of entity cleanup runs, by outcome.",
	}, []string{"outcome"})

	// ReconcileRemovedTotal counts paths removed by the reconciler, by reason.
	ReconcileRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_reconcile_removed_total",
		Help: "Total number of items removed by the reconciler, by reason (orphan_dir, cleanup_retry, tombstone).",
	}, []string{"reason"})

	// APIRequestsTotal counts event API requests by route and status class.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_api_requests_total",
		Help: "Total number of event API requests, by route and status code class.",
	}, []string{"route", "code"})

	// IngestedFilesTotal counts watch-folder files by result (ingested, skipped, failed).
	IngestedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_ingested_files_total",
		Help: "Total number of watch-folder files processed, by result.",
	}, []string{"result"})
)

// RecordDispatch increments the dispatched counter for kind.
func RecordDispatch(kind string) {
	JobsDispatchedTotal.WithLabelValues(kind).Inc()
}

// RecordJobOutcome increments the finished counter.
func RecordJobOutcome(kind, outcome string) {
	JobsFinishedTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveJobDuration records executor wall time in seconds.
func ObserveJobDuration(kind string, seconds float64) {
	JobDurationSeconds.WithLabelValues(kind).Observe(seconds)
}

// RecordToolExit increments the tool exit counter.
func RecordToolExit(tool, result string) {
	ToolExitTotal.WithLabelValues(tool, result).Inc()
}

// IncProcTerminate increments the process termination counter.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// RecordCleanup increments the cleanup counter.
func RecordCleanup(outcome string) {
	CleanupsTotal.WithLabelValues(outcome).Inc()
}

// RecordReconcileRemoval increments the reconciler removal counter by n.
func RecordReconcileRemoval(reason string, n int) {
	if n <= 0 {
		return
	}
	ReconcileRemovedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordAPIRequest increments the API request counter.
func RecordAPIRequest(route, code string) {
	APIRequestsTotal.WithLabelValues(route, code).Inc()
}

// RecordIngest increments the watch-folder ingestion counter.
func RecordIngest(result string) {
	IngestedFilesTotal.WithLabelValues(result).Inc()
}
