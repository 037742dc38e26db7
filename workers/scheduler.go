// workers/scheduler.go
package workers

import (
	"context"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/services"

	"github.com/go-co-op/gocron/v2"
)

// Reconciler resolves mint records abandoned by a crashed or stopped worker.
type Reconciler interface {
	ReconcileStale(ctx context.Context) (services.ReconcileReport, error)
}

// StartReconcileScheduler runs the stale-record sweep once at startup and then every
// interval. Runs never overlap. The returned scheduler must be shut down by the caller.
func StartReconcileScheduler(ctx context.Context, r Reconciler, interval time.Duration, log *logger.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			runCtx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()
			if _, err := r.ReconcileStale(runCtx); err != nil && ctx.Err() == nil {
				log.Error("Reconciliation sweep failed", "error", err)
			}
		}),
		gocron.WithName("mint-reconcile"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	log.Info("Reconciliation scheduler started", "interval", interval)
	return sched, nil
}
