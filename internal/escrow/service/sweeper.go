package service

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often the background sweeper settles expired
// escrows when no interval is configured.
const DefaultSweepInterval = time.Minute

// StartSweeper runs periodic expiry sweeps until ctx is cancelled. Sweep
// errors are logged and the loop continues; a transient store or ledger
// failure must not stop future sweeps.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			settled, err := s.Sweep(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "escrow sweep failed", "error", err)
				continue
			}
			if settled > 0 {
				s.logger.InfoContext(ctx, "escrow sweep settled expired escrows", "count", settled)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
