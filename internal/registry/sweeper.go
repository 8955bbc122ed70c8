package registry

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper evicts idle records every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, r *Registry, interval, ttl time.Duration, maxEntries int, logger *slog.Logger) {
	if interval <= 0 || (ttl <= 0 && maxEntries <= 0) {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Sweep(ctx, ttl, maxEntries)
			if err != nil {
				logger.Warn("registry sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("registry sweep", slog.Int("evicted", n))
			}
		}
	}
}
