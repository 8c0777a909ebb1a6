package retention

import (
	"context"
	"time"

	"github.com/matnordlund/netwall-flow-analyzer/internal/jobs"
	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

// scheduleInterval drives the daily retention run (spec §4.10: "Cleanup
// runs daily and on-demand"; §5 scheduling model names "one retention
// scheduler").
const scheduleInterval = 24 * time.Hour

// RunScheduler submits a cleanup job once per scheduleInterval until ctx
// is canceled. On-demand submission happens separately via POST
// /maintenance/cleanup.
func RunScheduler(ctx context.Context, mgr *jobs.Manager) {
	ticker := time.NewTicker(scheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := mgr.Submit(ctx, model.JobCleanup, nil, nil); err != nil {
				logger.Warn("scheduled cleanup submission skipped", "error", err)
			}
		}
	}
}
