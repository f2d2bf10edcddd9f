package token

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func fastPoll(attempts int) PollConfig {
	return PollConfig{BaseWait: time.Millisecond, MaxAttempts: attempts}
}

func TestPollReturnsOnFirstSuccess(t *testing.T) {
	calls := 0
	info, err := PollForTransaction(context.Background(), nil, fastPoll(5), "tx", func(context.Context) (*TransactionInfo, error) {
		calls++
		return &TransactionInfo{Quantity: big.NewInt(1)}, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if calls != 1 || info.Quantity.Int64() != 1 {
		t.Fatalf("unexpected: calls=%d info=%+v", calls, info)
	}
}

func TestPollRetriesNotFoundThenSucceeds(t *testing.T) {
	calls := 0
	info, err := PollForTransaction(context.Background(), nil, fastPoll(5), "tx", func(context.Context) (*TransactionInfo, error) {
		calls++
		if calls < 3 {
			return nil, ErrTransactionNotFound
		}
		return &TransactionInfo{Quantity: big.NewInt(7)}, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if calls != 3 || info.Quantity.Int64() != 7 {
		t.Fatalf("unexpected: calls=%d", calls)
	}
}

func TestPollExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := PollForTransaction(context.Background(), nil, fastPoll(4), "tx", func(context.Context) (*TransactionInfo, error) {
		calls++
		return nil, ErrTransactionNotFound
	})
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestPollSurfacesTerminalErrorsImmediately(t *testing.T) {
	for _, terminal := range []error{ErrNotAPayment, ErrTransactionNotMined} {
		calls := 0
		_, err := PollForTransaction(context.Background(), nil, fastPoll(5), "tx", func(context.Context) (*TransactionInfo, error) {
			calls++
			return nil, terminal
		})
		if !errors.Is(err, terminal) {
			t.Fatalf("expected %v, got %v", terminal, err)
		}
		if calls != 1 {
			t.Fatalf("terminal error should not retry, got %d calls", calls)
		}
	}
}

func TestPollRetriesTransientErrors(t *testing.T) {
	calls := 0
	_, err := PollForTransaction(context.Background(), nil, fastPoll(3), "tx", func(context.Context) (*TransactionInfo, error) {
		calls++
		return nil, errors.New("gateway hiccup")
	})
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected not-found after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestPollHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := PollForTransaction(ctx, nil, PollConfig{BaseWait: time.Hour, MaxAttempts: 5}, "tx", func(context.Context) (*TransactionInfo, error) {
			calls++
			return nil, ErrTransactionNotFound
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("poll did not honor cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before the long wait, got %d", calls)
	}
}
