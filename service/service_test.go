package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"turbocredit/currency"
	"turbocredit/ledger"
	"turbocredit/pricing"
	"turbocredit/token"
)

var storeSeq int

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	storeSeq++
	store, err := ledger.OpenSQLite(fmt.Sprintf("file:service_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), storeSeq))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeGateway scripts adapter answers per transaction id.
type fakeGateway struct {
	infos    map[string]*token.TransactionInfo
	statuses map[string]token.TransactionStatus
	infoErr  map[string]error
}

func (f *fakeGateway) GetTransaction(_ context.Context, txID string) (*token.TransactionInfo, error) {
	if err, ok := f.infoErr[txID]; ok {
		return nil, err
	}
	info, ok := f.infos[txID]
	if !ok {
		return nil, token.ErrTransactionNotFound
	}
	return info, nil
}

func (f *fakeGateway) GetTransactionStatus(_ context.Context, txID string) (token.TransactionStatus, error) {
	status, ok := f.statuses[txID]
	if !ok {
		return token.TransactionStatus{State: token.StatusNotFound}, nil
	}
	return status, nil
}

func (f *fakeGateway) Endpoint() string { return "fake://gateway" }

// ratePricing converts one base unit to one winc, and cents to winc at 5x.
type ratePricing struct{}

func (ratePricing) WincForPayment(_ context.Context, paymentAmount int64, _ string) (currency.Winc, error) {
	return currency.WincFromUint64(uint64(paymentAmount) * 5), nil
}

func (ratePricing) WincForToken(_ context.Context, _ string, quantity *big.Int) (currency.Winc, error) {
	return currency.WincFromBigInt(quantity)
}

func (ratePricing) WincForArNSName(_ context.Context, _, _, _ string, _ int) (currency.Winc, currency.Winc, error) {
	return currency.WincFromUint64(100), currency.WincFromUint64(50), nil
}

func newTestService(t *testing.T, store *ledger.Store, gw token.Gateway) *Service {
	t.Helper()
	svc, err := New(Config{
		Store:         store,
		Gateways:      token.Map{token.TypeArweave: gw},
		Pricing:       ratePricing{},
		Poll:          token.PollConfig{BaseWait: time.Millisecond, MaxAttempts: 2},
		SinkAddresses: map[string]string{token.TypeArweave: "SINK"},
		MaxLifetime:   time.Hour,
		QuoteTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestTopUpWithCryptoTransaction(t *testing.T) {
	store := openStore(t)
	gw := &fakeGateway{
		infos: map[string]*token.TransactionInfo{
			"TX1": {Quantity: big.NewInt(700), SenderAddress: "PAYER", RecipientAddress: "SINK"},
		},
	}
	svc := newTestService(t, store, gw)

	pending, err := svc.TopUpWithCryptoTransaction(context.Background(), "TX1", token.TypeArweave, "PAYER", ledger.AddressTypeArweave)
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if pending.WincAmount.String() != "700" || pending.Quantity.String() != "700" {
		t.Fatalf("unexpected pending: %+v", pending)
	}
	status, err := svc.GetTransactionStatus(context.Background(), "TX1", token.TypeArweave)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != "pending" {
		t.Fatalf("expected pending, got %s", status)
	}
}

func TestTopUpRejectsWrongDestination(t *testing.T) {
	store := openStore(t)
	gw := &fakeGateway{
		infos: map[string]*token.TransactionInfo{
			"TX2": {Quantity: big.NewInt(700), SenderAddress: "PAYER", RecipientAddress: "SOMEONE_ELSE"},
		},
	}
	svc := newTestService(t, store, gw)
	if _, err := svc.TopUpWithCryptoTransaction(context.Background(), "TX2", token.TypeArweave, "PAYER", ledger.AddressTypeArweave); !errors.Is(err, ErrWrongDestination) {
		t.Fatalf("expected wrong destination, got %v", err)
	}
}

func TestCreditPipelinePassCreditsConfirmed(t *testing.T) {
	store := openStore(t)
	gw := &fakeGateway{
		infos: map[string]*token.TransactionInfo{
			"TX3": {Quantity: big.NewInt(900), SenderAddress: "PAYER", RecipientAddress: "SINK"},
		},
		statuses: map[string]token.TransactionStatus{
			"TX3": {State: token.StatusConfirmed, BlockHeight: 777},
		},
	}
	svc := newTestService(t, store, gw)
	ctx := context.Background()
	if _, err := svc.TopUpWithCryptoTransaction(ctx, "TX3", token.TypeArweave, "PAYER", ledger.AddressTypeArweave); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if err := svc.CreditPipelinePass(ctx, 10); err != nil {
		t.Fatalf("pass: %v", err)
	}
	status, err := svc.GetTransactionStatus(ctx, "TX3", token.TypeArweave)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != "credited" {
		t.Fatalf("expected credited, got %s", status)
	}
	user, err := store.GetUser(ctx, "PAYER")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.WincBalance.String() != "900" {
		t.Fatalf("expected 900, got %s", user.WincBalance.String())
	}

	// A second pass is a no-op: the row left the pending set.
	if err := svc.CreditPipelinePass(ctx, 10); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	user, _ = store.GetUser(ctx, "PAYER")
	if user.WincBalance.String() != "900" {
		t.Fatalf("double credit: %s", user.WincBalance.String())
	}
}

func TestCreditPipelineFailsWrongDestinationOnSettle(t *testing.T) {
	store := openStore(t)
	// The transaction passed intake pointing at the sink, but the chain's
	// confirmed view shows another recipient.
	gw := &fakeGateway{
		infos: map[string]*token.TransactionInfo{
			"TX4": {Quantity: big.NewInt(100), SenderAddress: "PAYER", RecipientAddress: "ATTACKER"},
		},
		statuses: map[string]token.TransactionStatus{
			"TX4": {State: token.StatusConfirmed, BlockHeight: 1},
		},
	}
	svc := newTestService(t, store, gw)
	ctx := context.Background()
	if _, err := store.CreatePendingTransaction(ctx, ledger.PendingPaymentTransaction{
		TxID:                   "TX4",
		TokenType:              token.TypeArweave,
		Quantity:               currency.WincFromUint64(100),
		WincAmount:             currency.WincFromUint64(100),
		DestinationAddress:     "PAYER",
		DestinationAddressType: ledger.AddressTypeArweave,
	}); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if err := svc.CreditPipelinePass(ctx, 10); err != nil {
		t.Fatalf("pass: %v", err)
	}
	status, err := svc.GetTransactionStatus(ctx, "TX4", token.TypeArweave)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != "failed" {
		t.Fatalf("expected failed, got %s", status)
	}
	if _, err := store.GetUser(ctx, "PAYER"); !errors.Is(err, ledger.ErrUserNotFound) {
		t.Fatalf("no credit should have happened, got %v", err)
	}
}

func TestCreditPipelineExpiresUnseenTransactions(t *testing.T) {
	store := openStore(t)
	gw := &fakeGateway{} // chain never sees the transaction
	svc := newTestService(t, store, gw)
	ctx := context.Background()

	store.SetClock(func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) })
	if _, err := store.CreatePendingTransaction(ctx, ledger.PendingPaymentTransaction{
		TxID:                   "TX5",
		TokenType:              token.TypeArweave,
		Quantity:               currency.WincFromUint64(1),
		WincAmount:             currency.WincFromUint64(1),
		DestinationAddress:     "PAYER",
		DestinationAddressType: ledger.AddressTypeArweave,
	}); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	store.SetClock(time.Now)
	if err := svc.CreditPipelinePass(ctx, 10); err != nil {
		t.Fatalf("pass: %v", err)
	}
	status, err := svc.GetTransactionStatus(ctx, "TX5", token.TypeArweave)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != "failed" {
		t.Fatalf("expected failed after lifetime, got %s", status)
	}
}

func TestPriceQuotePersistsAdjustments(t *testing.T) {
	store := openStore(t)
	svc := newTestService(t, store, &fakeGateway{})
	quote, err := svc.PriceQuote(context.Background(), PriceQuoteParams{
		DestinationAddress:     "ADDR",
		DestinationAddressType: ledger.AddressTypeArweave,
		PaymentAmount:          100,
		CurrencyType:           "USD",
		Provider:               "stripe",
		Adjustments: []pricing.Adjustment{
			{CatalogID: "PROMO", Operator: pricing.OperatorMultiply, Magnitude: "0.8", Priority: 1},
		},
	})
	if err != nil {
		t.Fatalf("price quote: %v", err)
	}
	// 100 cents * 5 = 500 winc, then the 20% promo discount.
	if quote.WincAmount.String() != "400" {
		t.Fatalf("expected 400 winc, got %s", quote.WincAmount.String())
	}
	if quote.CurrencyType != "usd" {
		t.Fatalf("currency should normalize: %s", quote.CurrencyType)
	}
	if !quote.ExpiresAt.After(quote.QuotedAt) {
		t.Fatalf("quote must expire after creation")
	}
}

func TestSweepOnce(t *testing.T) {
	store := openStore(t)
	svc := newTestService(t, store, &fakeGateway{})
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := store.CreateTopUpQuote(ctx, ledger.TopUpQuote{
		QuoteID: "QS",
		TopUpQuoteFields: ledger.TopUpQuoteFields{
			DestinationAddress:     "ADDR",
			DestinationAddressType: ledger.AddressTypeArweave,
			PaymentAmount:          1,
			QuotedPaymentAmount:    1,
			CurrencyType:           "usd",
			WincAmount:             currency.WincFromUint64(1),
			Provider:               "stripe",
			QuotedAt:               now,
			ExpiresAt:              now.Add(time.Millisecond),
		},
	}, nil); err != nil {
		t.Fatalf("create quote: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := svc.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, err := store.GetTopUpQuote(ctx, "QS"); !errors.Is(err, ledger.ErrQuoteNotFound) {
		t.Fatalf("quote should be swept, got %v", err)
	}
}

func TestOpsHandler(t *testing.T) {
	store := openStore(t)
	svc := newTestService(t, store, &fakeGateway{})
	server := httptest.NewServer(svc.OpsHandler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	resp, err = server.Client().Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("metrics status: %d", resp.StatusCode)
	}
}
