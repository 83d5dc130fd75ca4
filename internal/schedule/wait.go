package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// UpdateEvery is the interval between countdown updates while waiting.
const UpdateEvery = 30 * time.Second

// WaitUntil blocks until clock reaches at, calling update with the remaining time
// every UpdateEvery. It resyncs the clock when its offset has gone stale.
func WaitUntil(ctx context.Context, clock *Clock, at time.Time, update func(remaining time.Duration)) error {
	ticker := time.NewTicker(UpdateEvery)
	defer ticker.Stop()

	for {
		remaining := at.Sub(clock.Now())
		if remaining <= 0 {
			return nil
		}

		if remaining < UpdateEvery {
			t := time.NewTimer(remaining)
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if clock.ShouldResync() {
				if err := clock.Sync(ctx); err != nil {
					clock.logger.Warn("clock resync failed", zap.Error(err))
				}
			}
			if left := at.Sub(clock.Now()); left > 0 && update != nil {
				update(left.Round(time.Second))
			}
		}
	}
}
