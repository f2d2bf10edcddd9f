package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreatePendingTransaction records an observed on-chain payment. Idempotent:
// a second call for the same (txId, tokenType) returns the existing row. A
// fingerprint already credited or failed is rejected so at most one row
// exists across the three sets.
func (s *Store) CreatePendingTransaction(ctx context.Context, pending PendingPaymentTransaction) (*PendingPaymentTransaction, error) {
	var result *PendingPaymentTransaction
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var existing PendingPaymentTransaction
		err := tx.Where("tx_id = ? AND token_type = ?", pending.TxID, pending.TokenType).
			First(&existing).Error
		switch {
		case err == nil:
			result = &existing
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("check pending: %w", err)
		}
		var credited int64
		if err := tx.Model(&CreditedPaymentTransaction{}).
			Where("tx_id = ? AND token_type = ?", pending.TxID, pending.TokenType).
			Count(&credited).Error; err != nil {
			return fmt.Errorf("check credited: %w", err)
		}
		if credited > 0 {
			return ErrTransactionAlreadyCredited
		}
		var failed int64
		if err := tx.Model(&FailedPaymentTransaction{}).
			Where("tx_id = ? AND token_type = ?", pending.TxID, pending.TokenType).
			Count(&failed).Error; err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		if failed > 0 {
			return ErrTransactionNotPending
		}
		pending.CreatedAt = s.now().UTC()
		if err := tx.Create(&pending).Error; err != nil {
			if isUniqueViolation(err) {
				// Lost a race with a concurrent insert; adopt that row.
				if err := tx.Where("tx_id = ? AND token_type = ?", pending.TxID, pending.TokenType).
					First(&existing).Error; err != nil {
					return fmt.Errorf("reload pending: %w", err)
				}
				result = &existing
				return nil
			}
			return fmt.Errorf("insert pending: %w", err)
		}
		result = &pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreditPendingTransaction promotes a confirmed pending transaction: the
// pending row is deleted, the credited row inserted, and the destination
// credited, all atomically.
func (s *Store) CreditPendingTransaction(ctx context.Context, txID, tokenType string, blockHeight int64) (*CreditedPaymentTransaction, error) {
	var credited *CreditedPaymentTransaction
	err := s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		var pending PendingPaymentTransaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tx_id = ? AND token_type = ?", txID, tokenType).
			First(&pending).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				var already int64
				if err := tx.Model(&CreditedPaymentTransaction{}).
					Where("tx_id = ? AND token_type = ?", txID, tokenType).
					Count(&already).Error; err != nil {
					return fmt.Errorf("check credited: %w", err)
				}
				if already > 0 {
					return ErrTransactionAlreadyCredited
				}
				return ErrTransactionNotPending
			}
			return fmt.Errorf("lock pending: %w", err)
		}
		credited = &CreditedPaymentTransaction{
			TxID:                   pending.TxID,
			TokenType:              pending.TokenType,
			Quantity:               pending.Quantity,
			WincAmount:             pending.WincAmount,
			DestinationAddress:     pending.DestinationAddress,
			DestinationAddressType: pending.DestinationAddressType,
			CreatedAt:              pending.CreatedAt,
			CreditedAt:             now,
			BlockHeight:            blockHeight,
		}
		if err := tx.Create(credited).Error; err != nil {
			return fmt.Errorf("insert credited: %w", err)
		}
		if err := tx.Delete(&PendingPaymentTransaction{}, "tx_id = ? AND token_type = ?", txID, tokenType).Error; err != nil {
			return fmt.Errorf("delete pending: %w", err)
		}
		changeID := pending.TxID
		return s.creditUser(tx, pending.DestinationAddress, pending.DestinationAddressType,
			pending.WincAmount, ReasonAccountCreation, ReasonCryptoPayment, &changeID)
	})
	if err != nil {
		return nil, err
	}
	return credited, nil
}

// FailPendingTransaction retires a pending transaction that will never
// confirm. No balance changes.
func (s *Store) FailPendingTransaction(ctx context.Context, txID, tokenType, reason string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		var pending PendingPaymentTransaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tx_id = ? AND token_type = ?", txID, tokenType).
			First(&pending).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotPending
			}
			return fmt.Errorf("lock pending: %w", err)
		}
		failed := FailedPaymentTransaction{
			TxID:                   pending.TxID,
			TokenType:              pending.TokenType,
			Quantity:               pending.Quantity,
			WincAmount:             pending.WincAmount,
			DestinationAddress:     pending.DestinationAddress,
			DestinationAddressType: pending.DestinationAddressType,
			CreatedAt:              pending.CreatedAt,
			FailedReason:           reason,
			FailedAt:               s.now().UTC(),
		}
		if err := tx.Create(&failed).Error; err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
		if err := tx.Delete(&PendingPaymentTransaction{}, "tx_id = ? AND token_type = ?", txID, tokenType).Error; err != nil {
			return fmt.Errorf("delete pending: %w", err)
		}
		return nil
	})
}

// PendingTransactionsOlderThan returns pending transactions created at or
// before the cutoff, oldest first. The credit pipeline polls these.
func (s *Store) PendingTransactionsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]PendingPaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []PendingPaymentTransaction
	err := s.reader.WithContext(ctx).
		Where("created_at <= ?", cutoff.UTC()).
		Order("created_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load pending transactions: %w", err)
	}
	return rows, nil
}

// GetPaymentTransaction reports which lifecycle set holds the fingerprint.
func (s *Store) GetPaymentTransaction(ctx context.Context, txID, tokenType string) (status string, blockHeight int64, err error) {
	db := s.reader.WithContext(ctx)
	var credited CreditedPaymentTransaction
	err = db.Where("tx_id = ? AND token_type = ?", txID, tokenType).First(&credited).Error
	if err == nil {
		return "credited", credited.BlockHeight, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, fmt.Errorf("check credited: %w", err)
	}
	var pending int64
	if err := db.Model(&PendingPaymentTransaction{}).
		Where("tx_id = ? AND token_type = ?", txID, tokenType).
		Count(&pending).Error; err != nil {
		return "", 0, fmt.Errorf("check pending: %w", err)
	}
	if pending > 0 {
		return "pending", 0, nil
	}
	var failed int64
	if err := db.Model(&FailedPaymentTransaction{}).
		Where("tx_id = ? AND token_type = ?", txID, tokenType).
		Count(&failed).Error; err != nil {
		return "", 0, fmt.Errorf("check failed: %w", err)
	}
	if failed > 0 {
		return "failed", 0, nil
	}
	return "", 0, ErrTransactionNotPending
}
