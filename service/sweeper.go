package service

import (
	"context"
	"errors"
	"time"
)

// RunSweeper expires stale quotes and delegated approvals until the context
// is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single expiry pass over quotes and approvals.
func (s *Service) SweepOnce(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "service.SweepOnce")
	defer span.End()
	now := time.Now().UTC()
	sweptQuotes, err := s.store.FailExpiredQuotes(ctx, now)
	if err != nil {
		return err
	}
	if sweptQuotes > 0 {
		s.metrics.QuotesSwept(sweptQuotes)
		s.log.Info("expired top up quotes", "count", sweptQuotes)
	}
	expiredApprovals, err := s.store.ExpireDelegatedPaymentApprovals(ctx, now)
	if err != nil {
		return err
	}
	if expiredApprovals > 0 {
		s.metrics.ApprovalsExpired(expiredApprovals)
		s.log.Info("expired delegated approvals", "count", expiredApprovals)
	}
	return nil
}
