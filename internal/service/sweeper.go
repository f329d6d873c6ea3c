package service

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper expires stale requests and bids on a fixed interval until ctx is done.
type Sweeper struct {
	requests TripRequestService
	interval time.Duration
}

func NewSweeper(requests TripRequestService, interval time.Duration) *Sweeper {
	return &Sweeper{requests: requests, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) {
	result, err := s.requests.ExpireStale(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "expiry sweep failed", "error", err)
		return
	}
	if result.Requests > 0 || result.Bids > 0 {
		slog.InfoContext(ctx, "expiry sweep", "requests", result.Requests, "bids", result.Bids)
	}
}
