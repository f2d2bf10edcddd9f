package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateArNSPurchaseQuote inserts a priced name purchase quote.
func (s *Store) CreateArNSPurchaseQuote(ctx context.Context, quote ArNSPurchaseQuote) (*ArNSPurchaseQuote, error) {
	now := s.now().UTC()
	if quote.QuotedAt.IsZero() {
		quote.QuotedAt = now
	}
	quote.CreatedAt = now
	if !quote.ExpiresAt.After(quote.QuotedAt) {
		return nil, fmt.Errorf("name purchase %s: expiration must follow creation", quote.PurchaseID)
	}
	err := s.transact(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&quote).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrArNSPurchaseExists
			}
			return fmt.Errorf("insert name purchase quote: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// SubmitArNSPurchase promotes a quote to pending: the owner's winc (or the
// quoted payer list's approvals) is debited and the on-chain message id
// recorded. The debit follows the reservation engine's payer rules.
func (s *Store) SubmitArNSPurchase(ctx context.Context, purchaseID, messageID string) (*PendingArNSPurchase, error) {
	var pending *PendingArNSPurchase
	err := s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		var quote ArNSPurchaseQuote
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("purchase_id = ?", purchaseID).
			First(&quote).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrArNSPurchaseNotFound
			}
			return fmt.Errorf("lock name purchase quote: %w", err)
		}
		if !quote.ExpiresAt.After(now) {
			return ErrQuoteExpired
		}
		params := ReservationParams{
			DataItemID:         purchaseID,
			SignerAddress:      quote.OwnerAddress,
			SignerAddressType:  AddressTypeArweave,
			ReservedWincAmount: quote.WincAmount,
			PaidBy:             splitPaidBy(quote.PaidBy),
			PaymentDirective:   DirectiveListOrSigner,
		}
		ordered, err := buildPayerList(params)
		if err != nil {
			return err
		}
		shortfall := s.insufficientBalance(tx, params)
		owed := quote.WincAmount
		for _, payer := range ordered {
			if owed.IsZero() {
				break
			}
			if payer == quote.OwnerAddress {
				if _, err := s.debitSignerBalance(tx, params, ReasonArNSPurchaseOrder, &owed); err != nil {
					return err
				}
				continue
			}
			if _, err := s.debitApprovals(tx, payer, quote.OwnerAddress, purchaseID, ReasonApprovedArNSPurchase, &owed); err != nil {
				return err
			}
		}
		if !owed.IsZero() {
			return shortfall
		}
		pending = &PendingArNSPurchase{
			PurchaseID:         quote.PurchaseID,
			ArNSPurchaseFields: quote.ArNSPurchaseFields,
			MessageID:          messageID,
			PendingAt:          now,
		}
		if err := tx.Create(pending).Error; err != nil {
			return fmt.Errorf("insert pending name purchase: %w", err)
		}
		if err := tx.Delete(&ArNSPurchaseQuote{}, "purchase_id = ?", quote.PurchaseID).Error; err != nil {
			return fmt.Errorf("delete name purchase quote: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// CompleteArNSPurchase archives a pending purchase as successful. The winc
// was spent at submission; nothing more moves.
func (s *Store) CompleteArNSPurchase(ctx context.Context, purchaseID string) (*SuccessfulArNSPurchase, error) {
	var success *SuccessfulArNSPurchase
	err := s.transact(ctx, func(tx *gorm.DB) error {
		pending, err := lockPendingArNSPurchase(tx, purchaseID)
		if err != nil {
			return err
		}
		success = &SuccessfulArNSPurchase{
			PurchaseID:         pending.PurchaseID,
			ArNSPurchaseFields: pending.ArNSPurchaseFields,
			MessageID:          pending.MessageID,
			SucceededAt:        s.now().UTC(),
		}
		if err := tx.Create(success).Error; err != nil {
			return fmt.Errorf("insert successful name purchase: %w", err)
		}
		return tx.Delete(&PendingArNSPurchase{}, "purchase_id = ?", purchaseID).Error
	})
	if err != nil {
		return nil, err
	}
	return success, nil
}

// FailArNSPurchase archives a pending purchase as failed and refunds the
// full winc amount to the owner atomically.
func (s *Store) FailArNSPurchase(ctx context.Context, purchaseID, reason string) (*FailedArNSPurchase, error) {
	var failed *FailedArNSPurchase
	err := s.transact(ctx, func(tx *gorm.DB) error {
		pending, err := lockPendingArNSPurchase(tx, purchaseID)
		if err != nil {
			return err
		}
		failed = &FailedArNSPurchase{
			PurchaseID:         pending.PurchaseID,
			ArNSPurchaseFields: pending.ArNSPurchaseFields,
			MessageID:          pending.MessageID,
			FailedReason:       reason,
			FailedAt:           s.now().UTC(),
		}
		if err := tx.Create(failed).Error; err != nil {
			return fmt.Errorf("insert failed name purchase: %w", err)
		}
		if err := tx.Delete(&PendingArNSPurchase{}, "purchase_id = ?", purchaseID).Error; err != nil {
			return fmt.Errorf("delete pending name purchase: %w", err)
		}
		changeID := pending.PurchaseID
		return s.creditUser(tx, pending.OwnerAddress, AddressTypeArweave, pending.WincAmount,
			ReasonArNSPurchaseFailed, ReasonArNSPurchaseFailed, &changeID)
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

func lockPendingArNSPurchase(tx *gorm.DB, purchaseID string) (*PendingArNSPurchase, error) {
	var pending PendingArNSPurchase
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("purchase_id = ?", purchaseID).
		First(&pending).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArNSPurchaseNotFound
		}
		return nil, fmt.Errorf("lock pending name purchase: %w", err)
	}
	return &pending, nil
}

func splitPaidBy(paidBy string) []string {
	if strings.TrimSpace(paidBy) == "" {
		return nil
	}
	parts := strings.Split(paidBy, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
