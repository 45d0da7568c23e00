package attendance

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper closes expired sessions every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("session sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("session sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.CloseExpired(ctx)
			if err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("expired sessions closed", zap.Int("count", n))
			}
		}
	}
}
