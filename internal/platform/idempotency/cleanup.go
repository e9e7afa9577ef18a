package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically removes expired records.
type Janitor struct {
	store    Store
	interval time.Duration
	batch    int
	logger   *zap.Logger
	clock    func() time.Time
}

// NewJanitor constructs a janitor sweeping up to batch records every interval.
func NewJanitor(store Store, interval time.Duration, batch int, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{store: store, interval: interval, batch: batch, logger: logger, clock: time.Now}
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep removes expired records until a pass returns fewer than a full batch.
func (j *Janitor) Sweep(ctx context.Context) int {
	total := 0
	for {
		removed, err := j.store.CleanupExpired(ctx, j.clock(), j.batch)
		total += removed
		if err != nil {
			j.logger.Warn("idempotency cleanup failed", zap.Error(err), zap.Int("removed", total))
			return total
		}
		if removed == 0 || j.batch <= 0 || removed < j.batch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		j.logger.Info("idempotency cleanup", zap.Int("removed", total))
	}
	return total
}
