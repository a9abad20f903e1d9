package sweeper

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"api_negotiations/internal/discount"
	"api_negotiations/internal/negotiation"
)

// DefaultInterval is generous against the 7-day negotiation and 48-hour
// code deadlines.
const DefaultInterval = 5 * time.Minute

// Sweeper periodically reaps negotiations and discount codes past their
// deadlines. Records are swept independently; one bad record never stops
// the rest of the sweep. Only an unreachable store marks the sweeper
// unhealthy.
type Sweeper struct {
	negotiations *negotiation.Service
	issuer       *discount.Issuer
	logger       *zap.Logger
	interval     time.Duration
	healthy      atomic.Bool
}

// New creates a Sweeper. A zero interval falls back to DefaultInterval.
func New(negotiations *negotiation.Service, issuer *discount.Issuer, logger *zap.Logger, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{
		negotiations: negotiations,
		issuer:       issuer,
		logger:       logger,
		interval:     interval,
	}
	s.healthy.Store(true)
	return s
}

// Healthy reports whether the last sweep could reach the store.
func (s *Sweeper) Healthy() bool {
	return s.healthy.Load()
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs one pass over stale negotiations and codes and returns
// how many records it transitioned.
func (s *Sweeper) SweepOnce() int {
	swept := 0

	due, err := s.negotiations.DueForExpiry()
	if err != nil {
		s.logger.Error("sweep cannot list negotiations", zap.Error(err))
		s.healthy.Store(false)
		return swept
	}
	for _, id := range due {
		n, err := s.negotiations.Expire(id)
		if err != nil {
			s.logger.Warn("failed to expire negotiation", zap.String("negotiation_id", id), zap.Error(err))
			continue
		}
		if n.State == negotiation.StateExpired {
			swept++
		}
	}

	expired, err := s.issuer.ExpireDue()
	if err != nil {
		s.logger.Error("sweep cannot list discount codes", zap.Error(err))
		s.healthy.Store(false)
		return swept
	}
	swept += expired

	s.healthy.Store(true)
	if swept > 0 {
		s.logger.Info("sweep completed", zap.Int("records_transitioned", swept))
	}
	return swept
}
