package workflow

import (
	"context"
	"time"

	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
)

// runReclaimer returns expired leases to the queue every heartbeat interval.
func (m *Manager) runReclaimer(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		m.reclaimOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) reclaimOnce(ctx context.Context) {
	result, err := m.store.ReclaimExpired(ctx, m.maxAttempts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.setLastError(err)
		m.logger.Warn("lease reclaim failed; stuck jobs may remain",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lease_reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return
	}
	if total := result.Requeued + result.Failed; total > 0 {
		metrics.LeasesReclaimedTotal.Add(float64(total))
		m.logger.Info("reclaimed expired leases",
			logging.Int("requeued", result.Requeued),
			logging.Int("failed", result.Failed),
			logging.String(logging.FieldEventType, "leases_reclaimed"),
		)
		if result.Requeued > 0 {
			m.Wake()
		}
	}
}
