package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"turbocredit/ledger"
	"turbocredit/token"
)

// Pipeline failure reasons recorded on terminally failed transactions.
const (
	failReasonNotFound         = "not_found"
	failReasonWrongDestination = "wrong_destination"
)

// RunCreditPipeline promotes confirmed pending transactions until the
// context is cancelled. Each pass runs at the configured interval; one bad
// transaction never halts the batch.
func (s *Service) RunCreditPipeline(ctx context.Context, interval time.Duration, batchSize int) {
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
			if err := s.CreditPipelinePass(ctx, batchSize); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("credit pipeline pass failed", "error", err)
			}
		}
	}
}

// CreditPipelinePass processes one batch of pending transactions.
func (s *Service) CreditPipelinePass(ctx context.Context, batchSize int) error {
	ctx, span := s.tracer.Start(ctx, "service.CreditPipelinePass")
	defer span.End()
	now := time.Now().UTC()
	cutoff := now
	if min := s.shortestSettleAge(); min > 0 {
		cutoff = now.Add(-min)
	}
	pending, err := s.store.PendingTransactionsOlderThan(ctx, cutoff, batchSize)
	if err != nil {
		return err
	}
	backlog := make(map[string]int)
	for _, tx := range pending {
		backlog[tx.TokenType]++
	}
	for tokenType, count := range backlog {
		s.metrics.PendingBacklog(tokenType, count)
	}
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if age := s.minSettleAge[tx.TokenType]; age > 0 && now.Sub(tx.CreatedAt) < age {
			continue
		}
		if err := s.settlePendingTransaction(ctx, tx, now); err != nil {
			s.log.Warn("pending transaction left untouched",
				"tx_id", tx.TxID, "token", tx.TokenType, "error", err)
		}
	}
	return nil
}

func (s *Service) shortestSettleAge() time.Duration {
	var min time.Duration
	for _, age := range s.minSettleAge {
		if min == 0 || age < min {
			min = age
		}
	}
	return min
}

// settlePendingTransaction resolves one pending transaction against its
// gateway. Confirmed payments to the sink address credit; confirmed payments
// elsewhere and transactions past their lifetime fail; pending stays put.
func (s *Service) settlePendingTransaction(ctx context.Context, tx ledger.PendingPaymentTransaction, now time.Time) error {
	gateway, err := s.gateways.Gateway(tx.TokenType)
	if err != nil {
		return err
	}
	status, err := gateway.GetTransactionStatus(ctx, tx.TxID)
	if err != nil {
		s.metrics.GatewayError(tx.TokenType)
		return err
	}
	switch status.State {
	case token.StatusConfirmed:
		info, err := gateway.GetTransaction(ctx, tx.TxID)
		if err != nil {
			s.metrics.GatewayError(tx.TokenType)
			return err
		}
		if sink := s.sinkAddresses[tx.TokenType]; sink != "" && !strings.EqualFold(info.RecipientAddress, sink) {
			if err := s.store.FailPendingTransaction(ctx, tx.TxID, tx.TokenType, failReasonWrongDestination); err != nil {
				return err
			}
			s.metrics.CryptoFailed(tx.TokenType, failReasonWrongDestination)
			s.log.Warn("confirmed transaction paid a foreign address",
				"tx_id", tx.TxID, "token", tx.TokenType, "recipient", info.RecipientAddress)
			return nil
		}
		if _, err := s.store.CreditPendingTransaction(ctx, tx.TxID, tx.TokenType, status.BlockHeight); err != nil {
			if errors.Is(err, ledger.ErrTransactionAlreadyCredited) {
				return nil
			}
			return err
		}
		s.metrics.CryptoCredited(tx.TokenType)
		s.log.Info("credited on-chain payment",
			"tx_id", tx.TxID, "token", tx.TokenType,
			"winc", tx.WincAmount.String(), "block_height", status.BlockHeight)
		return nil
	case token.StatusNotFound:
		if now.Sub(tx.CreatedAt) > s.maxLifetime {
			if err := s.store.FailPendingTransaction(ctx, tx.TxID, tx.TokenType, failReasonNotFound); err != nil {
				return err
			}
			s.metrics.CryptoFailed(tx.TokenType, failReasonNotFound)
			s.log.Info("expired unseen transaction", "tx_id", tx.TxID, "token", tx.TokenType)
		}
		return nil
	default:
		return nil // still pending on chain
	}
}
