package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"turbocredit/ledger"
)

// Name purchase types.
const (
	PurchaseTypeLease    = "lease"
	PurchaseTypePermaBuy = "permabuy"
)

// ArNSDust configures the mARIO dust attached to name purchase messages.
type ArNSDust struct {
	Lease    int64
	PermaBuy int64
}

// SetArNSDust configures the dust amounts. Zero values keep the defaults of
// one for leases and five for permanent buys.
func (s *Service) SetArNSDust(dust ArNSDust) {
	if dust.Lease > 0 {
		s.arnsDust.Lease = dust.Lease
	}
	if dust.PermaBuy > 0 {
		s.arnsDust.PermaBuy = dust.PermaBuy
	}
}

func (s *Service) dustFor(purchaseType string) int64 {
	if strings.EqualFold(purchaseType, PurchaseTypePermaBuy) {
		return s.arnsDust.PermaBuy
	}
	return s.arnsDust.Lease
}

// ArNSQuoteParams describes a name purchase request.
type ArNSQuoteParams struct {
	Name         string
	Intent       string
	PurchaseType string
	Years        int
	OwnerAddress string
	PaidBy       []string
}

// QuoteArNSPurchase prices a name purchase and persists the quote.
func (s *Service) QuoteArNSPurchase(ctx context.Context, params ArNSQuoteParams) (*ledger.ArNSPurchaseQuote, error) {
	ctx, span := s.tracer.Start(ctx, "service.QuoteArNSPurchase")
	defer span.End()
	if s.pricing == nil {
		return nil, fmt.Errorf("pricing service not configured")
	}
	winc, mario, err := s.pricing.WincForArNSName(ctx, params.Intent, params.Name, params.PurchaseType, params.Years)
	if err != nil {
		return nil, fmt.Errorf("price name purchase: %w", err)
	}
	now := time.Now().UTC()
	return s.store.CreateArNSPurchaseQuote(ctx, ledger.ArNSPurchaseQuote{
		PurchaseID: uuid.NewString(),
		ArNSPurchaseFields: ledger.ArNSPurchaseFields{
			Name:         strings.ToLower(params.Name),
			Intent:       params.Intent,
			PurchaseType: strings.ToLower(params.PurchaseType),
			OwnerAddress: params.OwnerAddress,
			WincAmount:   winc,
			MARIOAmount:  mario,
			PaidBy:       strings.Join(params.PaidBy, ","),
			QuotedAt:     now,
			ExpiresAt:    now.Add(s.quoteTTL),
		},
	})
}

// SubmitArNSPurchase debits the quoted winc and records the on-chain
// message carrying the purchase. The dust amount for the purchase type is
// logged with the submission for the payout job that funds the message.
func (s *Service) SubmitArNSPurchase(ctx context.Context, purchaseID, messageID string) (*ledger.PendingArNSPurchase, error) {
	ctx, span := s.tracer.Start(ctx, "service.SubmitArNSPurchase")
	defer span.End()
	pending, err := s.store.SubmitArNSPurchase(ctx, purchaseID, messageID)
	if err != nil {
		return nil, err
	}
	s.log.Info("name purchase submitted",
		"purchase_id", pending.PurchaseID,
		"message_id", pending.MessageID,
		"winc", pending.WincAmount.String(),
		"mario", pending.MARIOAmount.String(),
		"dust", s.dustFor(pending.PurchaseType))
	return pending, nil
}

// ResolveArNSPurchase settles a pending purchase from its on-chain outcome,
// refunding on failure.
func (s *Service) ResolveArNSPurchase(ctx context.Context, purchaseID string, succeeded bool, failureReason string) error {
	if succeeded {
		_, err := s.store.CompleteArNSPurchase(ctx, purchaseID)
		return err
	}
	if strings.TrimSpace(failureReason) == "" {
		failureReason = "on-chain action failed"
	}
	_, err := s.store.FailArNSPurchase(ctx, purchaseID, failureReason)
	return err
}
