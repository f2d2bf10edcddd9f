package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"turbocredit/currency"
)

// PaymentAdjustmentParams captures one catalog application to a quote.
type PaymentAdjustmentParams struct {
	CatalogID    string
	AdjustedWinc currency.SignedWinc
}

// CreateTopUpQuote inserts a quote and its applied payment adjustments.
func (s *Store) CreateTopUpQuote(ctx context.Context, quote TopUpQuote, adjustments []PaymentAdjustmentParams) (*TopUpQuote, error) {
	now := s.now().UTC()
	if quote.QuotedAt.IsZero() {
		quote.QuotedAt = now
	}
	quote.CreatedAt = now
	if !quote.ExpiresAt.After(quote.QuotedAt) {
		return nil, fmt.Errorf("quote %s: expiration must follow creation", quote.QuoteID)
	}
	err := s.transact(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&quote).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrQuoteExists
			}
			return fmt.Errorf("insert quote: %w", err)
		}
		for i, adj := range adjustments {
			row := AppliedPaymentAdjustment{
				CatalogID:       adj.CatalogID,
				QuoteID:         quote.QuoteID,
				UserAddress:     quote.DestinationAddress,
				AdjustedWinc:    adj.AdjustedWinc,
				AdjustmentIndex: i,
				AppliedAt:       now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert payment adjustment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// GetTopUpQuote loads a live quote.
func (s *Store) GetTopUpQuote(ctx context.Context, quoteID string) (*TopUpQuote, error) {
	var quote TopUpQuote
	err := s.reader.WithContext(ctx).Where("quote_id = ?", quoteID).First(&quote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("load quote: %w", err)
	}
	return &quote, nil
}

// FulfillQuote settles a quote: the destination is credited (or an
// unredeemed gift is written for email destinations), the receipt row is
// inserted, and the quote row is deleted. The expiration check runs under
// the quote row lock so a concurrent sweep serializes with fulfillment.
func (s *Store) FulfillQuote(ctx context.Context, quoteID, receiptID string, senderEmail *string) (*PaymentReceipt, error) {
	var receipt *PaymentReceipt
	err := s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		var quote TopUpQuote
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("quote_id = ?", quoteID).
			First(&quote).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				var existing int64
				if err := tx.Model(&PaymentReceipt{}).Where("quote_id = ?", quoteID).Count(&existing).Error; err != nil {
					return fmt.Errorf("check receipt: %w", err)
				}
				if existing > 0 {
					return ErrPaymentReceiptExists
				}
				return ErrQuoteNotFound
			}
			return fmt.Errorf("lock quote: %w", err)
		}
		if !quote.ExpiresAt.After(now) {
			return ErrQuoteExpired
		}
		receipt = &PaymentReceipt{
			ReceiptID:        receiptID,
			TopUpQuoteFields: quote.TopUpQuoteFields,
			QuoteID:          quote.QuoteID,
			SenderEmail:      senderEmail,
			ReceiptAt:        now,
		}
		if err := tx.Create(receipt).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrPaymentReceiptExists
			}
			return fmt.Errorf("insert receipt: %w", err)
		}
		changeID := receipt.ReceiptID
		if quote.DestinationAddressType == AddressTypeEmail {
			gift := UnredeemedGift{
				PaymentReceiptID: receipt.ReceiptID,
				RecipientEmail:   quote.DestinationAddress,
				SenderEmail:      senderEmail,
				GiftedWincAmount: quote.WincAmount,
				GiftMessage:      quote.GiftMessage,
				CreatedAt:        now,
				ExpiresAt:        now.Add(giftExpiryPeriod),
			}
			if err := tx.Create(&gift).Error; err != nil {
				return fmt.Errorf("insert gift: %w", err)
			}
			if err := s.appendAudit(tx, AuditLogEntry{
				UserAddress:  quote.DestinationAddress,
				WincDelta:    quote.WincAmount.Delta(),
				ChangeReason: ReasonGiftedPayment,
				ChangeID:     &changeID,
			}); err != nil {
				return err
			}
		} else {
			if err := s.creditUser(tx, quote.DestinationAddress, quote.DestinationAddressType,
				quote.WincAmount, ReasonAccountCreation, ReasonPayment, &changeID); err != nil {
				return err
			}
		}
		if err := tx.Delete(&TopUpQuote{}, "quote_id = ?", quote.QuoteID).Error; err != nil {
			return fmt.Errorf("delete quote: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// giftExpiryPeriod is how long an unredeemed gift remains claimable.
const giftExpiryPeriod = 365 * 24 * time.Hour

// FailQuote archives a quote that will never settle.
func (s *Store) FailQuote(ctx context.Context, quoteID, reason string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		var quote TopUpQuote
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("quote_id = ?", quoteID).
			First(&quote).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuoteNotFound
			}
			return fmt.Errorf("lock quote: %w", err)
		}
		failed := FailedTopUpQuote{
			QuoteID:          quote.QuoteID,
			TopUpQuoteFields: quote.TopUpQuoteFields,
			FailedReason:     reason,
			QuoteFailedAt:    s.now().UTC(),
		}
		if err := tx.Create(&failed).Error; err != nil {
			return fmt.Errorf("insert failed quote: %w", err)
		}
		if err := tx.Delete(&TopUpQuote{}, "quote_id = ?", quote.QuoteID).Error; err != nil {
			return fmt.Errorf("delete quote: %w", err)
		}
		return nil
	})
}

// FailExpiredQuotes moves every quote past its expiration into the failed
// set. Each quote transitions in its own transaction so one failure does not
// halt the sweep. Returns the number of quotes failed.
func (s *Store) FailExpiredQuotes(ctx context.Context, now time.Time) (int, error) {
	var ids []string
	err := s.reader.WithContext(ctx).Model(&TopUpQuote{}).
		Where("expires_at <= ?", now.UTC()).
		Pluck("quote_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find expired quotes: %w", err)
	}
	swept := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if err := s.FailQuote(ctx, id, "expired"); err != nil {
			if errors.Is(err, ErrQuoteNotFound) {
				continue // fulfilled or swept concurrently
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// Chargeback claws back a settled quote. The destination is debited by the
// receipt amount; the balance may go negative, which the audit row flags.
func (s *Store) Chargeback(ctx context.Context, quoteID, chargebackID, reason string) (*ChargebackReceipt, error) {
	var chargeback *ChargebackReceipt
	err := s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		var receipt PaymentReceipt
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("quote_id = ?", quoteID).
			First(&receipt).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentReceiptNotFound
			}
			return fmt.Errorf("lock receipt: %w", err)
		}
		chargeback = &ChargebackReceipt{
			ChargebackID:     chargebackID,
			ReceiptID:        receipt.ReceiptID,
			QuoteID:          receipt.QuoteID,
			TopUpQuoteFields: receipt.TopUpQuoteFields,
			ChargebackReason: reason,
			ChargebackAt:     now,
		}
		if err := tx.Create(chargeback).Error; err != nil {
			return fmt.Errorf("insert chargeback: %w", err)
		}
		if err := tx.Delete(&PaymentReceipt{}, "receipt_id = ?", receipt.ReceiptID).Error; err != nil {
			return fmt.Errorf("delete receipt: %w", err)
		}
		changeID := chargebackID
		if receipt.DestinationAddressType == AddressTypeEmail {
			// An unclaimed gift is withdrawn rather than debited.
			if err := tx.Delete(&UnredeemedGift{}, "payment_receipt_id = ?", receipt.ReceiptID).Error; err != nil {
				return fmt.Errorf("withdraw gift: %w", err)
			}
			return s.appendAudit(tx, AuditLogEntry{
				UserAddress:  receipt.DestinationAddress,
				WincDelta:    receipt.WincAmount.NegativeDelta(),
				ChangeReason: ReasonChargeback,
				ChangeID:     &changeID,
			})
		}
		user, err := s.lockUser(tx, receipt.DestinationAddress)
		if err != nil {
			return err
		}
		return s.debitUser(tx, user, receipt.WincAmount, true, ReasonChargeback, &changeID)
	})
	if err != nil {
		return nil, err
	}
	return chargeback, nil
}

// RedeemGift claims an unredeemed gift for a chain address, creating the
// destination user if needed.
func (s *Store) RedeemGift(ctx context.Context, paymentReceiptID, recipientEmail, destinationAddress, destinationAddressType string) (*RedeemedGift, error) {
	var redeemed *RedeemedGift
	err := s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		var gift UnredeemedGift
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_receipt_id = ?", paymentReceiptID).
			First(&gift).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				var already int64
				if err := tx.Model(&RedeemedGift{}).Where("payment_receipt_id = ?", paymentReceiptID).Count(&already).Error; err != nil {
					return fmt.Errorf("check redeemed: %w", err)
				}
				if already > 0 {
					return ErrGiftAlreadyRedeemed
				}
				return ErrGiftNotFound
			}
			return fmt.Errorf("lock gift: %w", err)
		}
		if gift.RecipientEmail != recipientEmail {
			return ErrGiftNotFound
		}
		if !gift.ExpiresAt.After(now) {
			return ErrGiftExpired
		}
		redeemed = &RedeemedGift{
			PaymentReceiptID:   gift.PaymentReceiptID,
			RecipientEmail:     gift.RecipientEmail,
			SenderEmail:        gift.SenderEmail,
			GiftedWincAmount:   gift.GiftedWincAmount,
			GiftMessage:        gift.GiftMessage,
			CreatedAt:          gift.CreatedAt,
			ExpiresAt:          gift.ExpiresAt,
			DestinationAddress: destinationAddress,
			RedeemedAt:         now,
		}
		if err := tx.Create(redeemed).Error; err != nil {
			return fmt.Errorf("insert redeemed gift: %w", err)
		}
		if err := tx.Delete(&UnredeemedGift{}, "payment_receipt_id = ?", gift.PaymentReceiptID).Error; err != nil {
			return fmt.Errorf("delete gift: %w", err)
		}
		changeID := gift.PaymentReceiptID
		return s.creditUser(tx, destinationAddress, destinationAddressType,
			gift.GiftedWincAmount, ReasonGiftedAccountCreation, ReasonGiftedPaymentRedemption, &changeID)
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}
