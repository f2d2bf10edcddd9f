package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"turbocredit/currency"
)

func testPending(txID, tokenType, destination string, winc uint64) PendingPaymentTransaction {
	return PendingPaymentTransaction{
		TxID:                   txID,
		TokenType:              tokenType,
		Quantity:               currency.WincFromUint64(1_000_000),
		WincAmount:             currency.WincFromUint64(winc),
		DestinationAddress:     destination,
		DestinationAddressType: AddressTypeArweave,
	}
}

func TestCryptoCreditIdempotence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.CreatePendingTransaction(ctx, testPending("T1", "arweave", "ADDR_E", 700))
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	second, err := store.CreatePendingTransaction(ctx, testPending("T1", "arweave", "ADDR_E", 700))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !first.WincAmount.Equals(second.WincAmount) {
		t.Fatalf("second create should return the existing row")
	}
	var pendingCount int64
	if err := store.reader.Model(&PendingPaymentTransaction{}).Count(&pendingCount).Error; err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pendingCount != 1 {
		t.Fatalf("expected one pending row, got %d", pendingCount)
	}

	credited, err := store.CreditPendingTransaction(ctx, "T1", "arweave", 1_234_567)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if credited.BlockHeight != 1_234_567 {
		t.Fatalf("unexpected block height: %d", credited.BlockHeight)
	}
	if _, err := store.CreditPendingTransaction(ctx, "T1", "arweave", 1_234_567); !errors.Is(err, ErrTransactionAlreadyCredited) {
		t.Fatalf("expected already-credited, got %v", err)
	}
	user, err := store.GetUser(ctx, "ADDR_E")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.WincBalance.String() != "700" {
		t.Fatalf("expected single credit of 700, got %s", user.WincBalance.String())
	}
	auditSum(t, store, "ADDR_E")

	// The credited fingerprint can never re-enter the pending set.
	if _, err := store.CreatePendingTransaction(ctx, testPending("T1", "arweave", "ADDR_E", 700)); !errors.Is(err, ErrTransactionAlreadyCredited) {
		t.Fatalf("expected credited fingerprint rejection, got %v", err)
	}
}

func TestSameTxIDDifferentTokenTypes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.CreatePendingTransaction(ctx, testPending("TX", "arweave", "A", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreatePendingTransaction(ctx, testPending("TX", "ethereum", "A", 1)); err != nil {
		t.Fatalf("same id, different token should be distinct: %v", err)
	}
}

func TestFailPendingTransaction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.CreatePendingTransaction(ctx, testPending("T2", "solana", "ADDR_F", 100)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.FailPendingTransaction(ctx, "T2", "solana", "not_found"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	// No balance was created or changed.
	if _, err := store.GetUser(ctx, "ADDR_F"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected no user, got %v", err)
	}
	status, _, err := store.GetPaymentTransaction(ctx, "T2", "solana")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != "failed" {
		t.Fatalf("unexpected status: %s", status)
	}
	if err := store.FailPendingTransaction(ctx, "T2", "solana", "again"); !errors.Is(err, ErrTransactionNotPending) {
		t.Fatalf("expected not-pending, got %v", err)
	}
}

func TestPendingOlderThan(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	store.SetClock(func() time.Time { return base.Add(-10 * time.Minute) })
	if _, err := store.CreatePendingTransaction(ctx, testPending("OLD", "kyve", "A", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	store.SetClock(func() time.Time { return base })
	if _, err := store.CreatePendingTransaction(ctx, testPending("NEW", "kyve", "A", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	rows, err := store.PendingTransactionsOlderThan(ctx, base.Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("older than: %v", err)
	}
	if len(rows) != 1 || rows[0].TxID != "OLD" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
