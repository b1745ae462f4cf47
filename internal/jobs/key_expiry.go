// Package jobs holds the server's periodic background work.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/datatap/datatap/internal/safego"
	"github.com/datatap/datatap/internal/telemetry"
)

// DefaultKeyExpiryInterval is used when no interval is configured.
const DefaultKeyExpiryInterval = time.Hour

// KeyExpirer marks keys past their expiry time as expired and reports how
// many rows changed.
type KeyExpirer interface {
	ExpireAPIKeys(ctx context.Context, now time.Time) (int64, error)
}

// KeyExpirySweeper moves active API keys whose expires_at has passed to the
// expired status. The gateway already rejects such keys on use; the sweep
// keeps the stored status honest for listings and the dashboard.
type KeyExpirySweeper struct {
	store    KeyExpirer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewKeyExpirySweeper creates a sweeper. A non-positive interval selects
// DefaultKeyExpiryInterval.
func NewKeyExpirySweeper(store KeyExpirer, interval time.Duration, logger *slog.Logger) *KeyExpirySweeper {
	if interval <= 0 {
		interval = DefaultKeyExpiryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyExpirySweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start sweeps once immediately, then on every tick until ctx is cancelled
// or Stop is called.
func (s *KeyExpirySweeper) Start(ctx context.Context) {
	safego.Go("key-expiry-sweeper", func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("key expiry sweeper started", "interval", s.interval)
		s.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stopCh:
				s.logger.Info("key expiry sweeper stopped")
				return
			case <-ctx.Done():
				s.logger.Info("key expiry sweeper stopped", "reason", ctx.Err())
				return
			}
		}
	})
}

// Stop signals the loop to exit and waits for it. It is safe to call more
// than once, but only after Start.
func (s *KeyExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// RunOnce performs a single sweep and returns the number of keys expired.
func (s *KeyExpirySweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireAPIKeys(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.KeysExpiredTotal.Add(float64(n))
	}
	return n, nil
}

func (s *KeyExpirySweeper) sweep(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("key expiry sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("expired api keys", "count", n)
	}
}
