package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes expired sessions.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper returns a sweeper running every interval. A non-positive
// interval disables it.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{manager: m, interval: interval}
}

// Run sweeps until ctx is cancelled. Failures are logged and retried on
// the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.manager.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("swept expired sessions", "count", n)
			}
		}
	}
}
