package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartJanitor prunes expired entries every interval until ctx is done.
// It is optional: expiry is already enforced on read.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := c.Prune(ctx, c.now())
				if err != nil {
					c.logger.Warn("pruning classification cache", zap.Error(err))
					continue
				}
				if removed > 0 {
					c.logger.Debug("pruned classification cache", zap.Int("removed", removed))
				}
			}
		}
	}()
}
