// Package service composes the ledger, the chain gateways and the pricing
// oracle into the credit service the HTTP layer and the background workers
// drive. The context owns every dependency; there is no global state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"turbocredit/currency"
	"turbocredit/ledger"
	"turbocredit/observability/metrics"
	"turbocredit/pricing"
	"turbocredit/token"
)

// ErrWrongDestination is returned when an on-chain payment did not pay a
// system sink address.
var ErrWrongDestination = errors.New("transaction did not pay a system address")

// Config assembles the service dependencies.
type Config struct {
	Store    *ledger.Store
	Gateways token.Map
	Pricing  pricing.Service
	Log      *slog.Logger
	Poll     token.PollConfig
	// SinkAddresses maps token type to the system-controlled deposit
	// address payments must target.
	SinkAddresses map[string]string
	// MinSettleAge delays pipeline processing per token type.
	MinSettleAge map[string]time.Duration
	// MaxLifetime fails pending transactions never found on chain.
	MaxLifetime time.Duration
	// QuoteTTL bounds top up quote validity.
	QuoteTTL time.Duration
}

// Service is the credit accounting core.
type Service struct {
	store    *ledger.Store
	gateways token.Map
	pricing  pricing.Service
	log      *slog.Logger
	metrics  *metrics.CreditMetrics
	tracer   trace.Tracer
	poll     token.PollConfig

	sinkAddresses map[string]string
	minSettleAge  map[string]time.Duration
	maxLifetime   time.Duration
	quoteTTL      time.Duration
	arnsDust      ArNSDust
}

// New validates the configuration and builds the service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 24 * time.Hour
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 30 * time.Minute
	}
	if cfg.Poll.MaxAttempts == 0 {
		cfg.Poll = token.DefaultPollConfig()
	}
	return &Service{
		store:         cfg.Store,
		gateways:      cfg.Gateways,
		pricing:       cfg.Pricing,
		log:           cfg.Log,
		metrics:       metrics.Credit(),
		tracer:        otel.Tracer("turbocredit/service"),
		poll:          cfg.Poll,
		sinkAddresses: cfg.SinkAddresses,
		minSettleAge:  cfg.MinSettleAge,
		maxLifetime:   cfg.MaxLifetime,
		quoteTTL:      cfg.QuoteTTL,
		arnsDust:      ArNSDust{Lease: 1, PermaBuy: 5},
	}, nil
}

// Store exposes the underlying ledger for operations the facade does not
// wrap, administration tooling mostly.
func (s *Service) Store() *ledger.Store { return s.store }

// PriceQuoteParams describes a top up quote request.
type PriceQuoteParams struct {
	DestinationAddress     string
	DestinationAddressType string
	PaymentAmount          int64
	CurrencyType           string
	Provider               string
	GiftMessage            *string
	Adjustments            []pricing.Adjustment
}

// PriceQuote prices a top up and persists the quote with its applied
// adjustments.
func (s *Service) PriceQuote(ctx context.Context, params PriceQuoteParams) (*ledger.TopUpQuote, error) {
	ctx, span := s.tracer.Start(ctx, "service.PriceQuote")
	defer span.End()
	if s.pricing == nil {
		return nil, fmt.Errorf("pricing service not configured")
	}
	winc, err := s.pricing.WincForPayment(ctx, params.PaymentAmount, params.CurrencyType)
	if err != nil {
		return nil, fmt.Errorf("price payment: %w", err)
	}
	adjusted, applied, err := pricing.ApplyToWinc(winc, params.Adjustments)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	quote := ledger.TopUpQuote{
		QuoteID: uuid.NewString(),
		TopUpQuoteFields: ledger.TopUpQuoteFields{
			DestinationAddress:     params.DestinationAddress,
			DestinationAddressType: params.DestinationAddressType,
			PaymentAmount:          params.PaymentAmount,
			QuotedPaymentAmount:    params.PaymentAmount,
			CurrencyType:           strings.ToLower(params.CurrencyType),
			WincAmount:             adjusted,
			Provider:               params.Provider,
			GiftMessage:            params.GiftMessage,
			QuotedAt:               now,
			ExpiresAt:              now.Add(s.quoteTTL),
		},
	}
	rows := make([]ledger.PaymentAdjustmentParams, 0, len(applied))
	for _, a := range applied {
		rows = append(rows, ledger.PaymentAdjustmentParams{CatalogID: a.CatalogID, AdjustedWinc: a.AdjustedWinc})
	}
	return s.store.CreateTopUpQuote(ctx, quote, rows)
}

// FulfillQuote settles a quote after the provider confirms payment.
func (s *Service) FulfillQuote(ctx context.Context, quoteID, receiptID string, senderEmail *string) (*ledger.PaymentReceipt, error) {
	receipt, err := s.store.FulfillQuote(ctx, quoteID, receiptID, senderEmail)
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentFulfilled(receipt.Provider)
	return receipt, nil
}

// FailQuote fails a quote on a provider signal.
func (s *Service) FailQuote(ctx context.Context, quoteID, reason string) error {
	if err := s.store.FailQuote(ctx, quoteID, reason); err != nil {
		return err
	}
	s.metrics.PaymentFailed(reason)
	return nil
}

// Chargeback claws back a settled quote.
func (s *Service) Chargeback(ctx context.Context, quoteID, reason string) (*ledger.ChargebackReceipt, error) {
	return s.store.Chargeback(ctx, quoteID, uuid.NewString(), reason)
}

// GetBalance reports the spending power view for an address.
func (s *Service) GetBalance(ctx context.Context, address string) (*ledger.Balance, error) {
	return s.store.GetBalance(ctx, address)
}

// Reserve runs the balance reservation engine.
func (s *Service) Reserve(ctx context.Context, params ledger.ReservationParams) (*ledger.BalanceReservation, error) {
	ctx, span := s.tracer.Start(ctx, "service.Reserve")
	defer span.End()
	reservation, err := s.store.CreateBalanceReservation(ctx, params)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			s.metrics.ReservationDenied()
		}
		return nil, err
	}
	s.metrics.ReservationCreated()
	return reservation, nil
}

// RefundReservation returns a reservation's winc to its signer.
func (s *Service) RefundReservation(ctx context.Context, dataItemID string) error {
	return s.store.RefundBalanceReservation(ctx, dataItemID)
}

// CreateApproval creates a delegated payment approval.
func (s *Service) CreateApproval(ctx context.Context, params ledger.CreateApprovalParams) (*ledger.DelegatedPaymentApproval, error) {
	return s.store.CreateDelegatedPaymentApproval(ctx, params)
}

// RevokeApproval revokes a delegated payment approval.
func (s *Service) RevokeApproval(ctx context.Context, approvalDataItemID, revokeDataItemID string) (*ledger.InactiveDelegatedPaymentApproval, error) {
	return s.store.RevokeDelegatedPaymentApproval(ctx, approvalDataItemID, revokeDataItemID)
}

// TopUpWithCryptoTransaction ingests an on-chain payment: the gateway is
// polled for the transaction, the recipient checked against the system sink
// address, the quantity priced, and the pending row created.
func (s *Service) TopUpWithCryptoTransaction(ctx context.Context, txID, tokenType, destinationAddress, destinationAddressType string) (*ledger.PendingPaymentTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "service.TopUpWithCryptoTransaction")
	defer span.End()
	gateway, err := s.gateways.Gateway(tokenType)
	if err != nil {
		return nil, err
	}
	info, err := token.PollForTransaction(ctx, s.log, s.poll, txID, func(ctx context.Context) (*token.TransactionInfo, error) {
		return gateway.GetTransaction(ctx, txID)
	})
	if err != nil {
		s.metrics.GatewayError(tokenType)
		return nil, err
	}
	if sink := s.sinkAddresses[tokenType]; sink != "" && !strings.EqualFold(info.RecipientAddress, sink) {
		return nil, fmt.Errorf("%w: paid %s", ErrWrongDestination, info.RecipientAddress)
	}
	if s.pricing == nil {
		return nil, fmt.Errorf("pricing service not configured")
	}
	winc, err := s.pricing.WincForToken(ctx, tokenType, info.Quantity)
	if err != nil {
		return nil, fmt.Errorf("price token quantity: %w", err)
	}
	quantity, err := currency.WincFromBigInt(info.Quantity)
	if err != nil {
		return nil, err
	}
	return s.store.CreatePendingTransaction(ctx, ledger.PendingPaymentTransaction{
		TxID:                   txID,
		TokenType:              tokenType,
		Quantity:               quantity,
		WincAmount:             winc,
		DestinationAddress:     destinationAddress,
		DestinationAddressType: destinationAddressType,
	})
}

// GetTransactionStatus answers where a payment transaction sits: settled in
// the ledger, pending confirmation, failed, or as the chain reports it.
func (s *Service) GetTransactionStatus(ctx context.Context, txID, tokenType string) (string, error) {
	status, _, err := s.store.GetPaymentTransaction(ctx, txID, tokenType)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, ledger.ErrTransactionNotPending) {
		return "", err
	}
	gateway, err := s.gateways.Gateway(tokenType)
	if err != nil {
		return "", err
	}
	chainStatus, err := gateway.GetTransactionStatus(ctx, txID)
	if err != nil {
		return "", err
	}
	return chainStatus.State.String(), nil
}
