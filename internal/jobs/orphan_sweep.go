package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"semaphore/provisioning/internal/config"
)

type OrphanStore interface {
	DeleteOrphanAccounts(ctx context.Context, createdBefore time.Time) (int64, error)
}

type OrphanRecorder interface {
	ObserveOrphansDeleted(count int64)
}

// SweepOrphans deletes accounts older than grace that never got a profile. Such
// accounts exist only when compensation failed after a profile write error.
func SweepOrphans(ctx context.Context, store OrphanStore, grace time.Duration, now time.Time) (int64, error) {
	return store.DeleteOrphanAccounts(ctx, now.Add(-grace))
}

func StartOrphanSweepJob(ctx context.Context, cfg config.Config, store OrphanStore, recorder OrphanRecorder, logger *zap.Logger) {
	if !cfg.OrphanSweepEnabled {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("orphan_sweep")
	if store == nil {
		logger.Warn("orphan sweep disabled: store not configured")
		return
	}
	interval := cfg.OrphanSweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	timeout := cfg.OrphanSweepTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	grace := cfg.OrphanGracePeriod
	if grace <= 0 {
		grace = time.Hour
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				deleted, err := SweepOrphans(tickCtx, store, grace, time.Now().UTC())
				cancel()
				if err != nil {
					logger.Error("orphan sweep failed", zap.Error(err))
					continue
				}
				if recorder != nil {
					recorder.ObserveOrphansDeleted(deleted)
				}
				if deleted > 0 {
					logger.Info("orphan sweep deleted accounts", zap.Int64("count", deleted))
				}
			}
		}
	}()
}
