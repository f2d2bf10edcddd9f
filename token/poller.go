package token

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// PollConfig bounds the shared retry harness.
type PollConfig struct {
	// BaseWait is the first retry delay; each attempt doubles it.
	BaseWait time.Duration
	// MaxAttempts caps the number of lookups.
	MaxAttempts int
}

// DefaultPollConfig matches the production posture: 500ms base, five
// attempts, roughly fifteen seconds end to end.
func DefaultPollConfig() PollConfig {
	return PollConfig{BaseWait: 500 * time.Millisecond, MaxAttempts: 5}
}

func (c PollConfig) normalized() PollConfig {
	if c.BaseWait <= 0 {
		c.BaseWait = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// PollForTransaction retries getTx with exponential backoff until it returns
// a transaction or attempts run out. Not-a-payment and not-mined surface
// immediately; other errors are logged and retried. Every wait honors the
// context.
func PollForTransaction(ctx context.Context, log *slog.Logger, cfg PollConfig, txID string, getTx func(context.Context) (*TransactionInfo, error)) (*TransactionInfo, error) {
	cfg = cfg.normalized()
	wait := cfg.BaseWait
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			wait *= 2
		}
		info, err := getTx(ctx)
		switch {
		case err == nil && info != nil:
			return info, nil
		case errors.Is(err, ErrNotAPayment), errors.Is(err, ErrTransactionNotMined):
			return nil, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case err != nil && !errors.Is(err, ErrTransactionNotFound):
			if log != nil {
				log.Warn("transaction lookup failed, retrying",
					"tx_id", txID, "attempt", attempt+1, "error", err)
			}
		}
	}
	return nil, ErrTransactionNotFound
}
