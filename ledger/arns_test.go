package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"turbocredit/currency"
)

func testArNSQuote(id, owner string, winc uint64) ArNSPurchaseQuote {
	now := time.Now().UTC()
	return ArNSPurchaseQuote{
		PurchaseID: id,
		ArNSPurchaseFields: ArNSPurchaseFields{
			Name:         "ardrive",
			Intent:       "buy-record",
			PurchaseType: "lease",
			OwnerAddress: owner,
			WincAmount:   currency.WincFromUint64(winc),
			MARIOAmount:  currency.WincFromUint64(winc / 2),
			QuotedAt:     now,
			ExpiresAt:    now.Add(time.Hour),
		},
	}
}

func TestArNSPurchaseLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "OWNER", 1000)

	if _, err := store.CreateArNSPurchaseQuote(ctx, testArNSQuote("NP_1", "OWNER", 600)); err != nil {
		t.Fatalf("create quote: %v", err)
	}
	pending, err := store.SubmitArNSPurchase(ctx, "NP_1", "MSG_1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pending.MessageID != "MSG_1" {
		t.Fatalf("unexpected pending: %+v", pending)
	}
	user, _ := store.GetUser(ctx, "OWNER")
	if user.WincBalance.String() != "400" {
		t.Fatalf("submission should debit owner, got %s", user.WincBalance.String())
	}
	if _, err := store.CompleteArNSPurchase(ctx, "NP_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Success moves the row and nothing more.
	user, _ = store.GetUser(ctx, "OWNER")
	if user.WincBalance.String() != "400" {
		t.Fatalf("success should not move winc, got %s", user.WincBalance.String())
	}
	auditSum(t, store, "OWNER")
}

func TestArNSPurchaseFailureRefunds(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "OWNER", 1000)

	if _, err := store.CreateArNSPurchaseQuote(ctx, testArNSQuote("NP_2", "OWNER", 600)); err != nil {
		t.Fatalf("create quote: %v", err)
	}
	if _, err := store.SubmitArNSPurchase(ctx, "NP_2", "MSG_2"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	failed, err := store.FailArNSPurchase(ctx, "NP_2", "name already taken")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.FailedReason != "name already taken" {
		t.Fatalf("unexpected failure: %+v", failed)
	}
	user, _ := store.GetUser(ctx, "OWNER")
	if user.WincBalance.String() != "1000" {
		t.Fatalf("failure should refund atomically, got %s", user.WincBalance.String())
	}
	entries, _ := store.AuditTrail(ctx, "OWNER")
	last := entries[len(entries)-1]
	if last.ChangeReason != ReasonArNSPurchaseFailed || last.WincDelta.String() != "600" {
		t.Fatalf("unexpected refund audit: %+v", last)
	}
	auditSum(t, store, "OWNER")
}

func TestArNSPurchaseInsufficientBalance(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "OWNER", 100)

	if _, err := store.CreateArNSPurchaseQuote(ctx, testArNSQuote("NP_3", "OWNER", 600)); err != nil {
		t.Fatalf("create quote: %v", err)
	}
	if _, err := store.SubmitArNSPurchase(ctx, "NP_3", "MSG_3"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	// Name purchase quotes are not stored as top up quotes.
	if _, err := store.GetTopUpQuote(ctx, "NP_3"); !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("name purchase quote should not be a top up quote: %v", err)
	}
	user, _ := store.GetUser(ctx, "OWNER")
	if user.WincBalance.String() != "100" {
		t.Fatalf("debit leaked: %s", user.WincBalance.String())
	}
}

func TestArNSPurchasePaidByApproval(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "SPONSOR", 1000)
	seedUser(t, store, "OWNER", 50)

	if _, err := store.CreateDelegatedPaymentApproval(ctx, CreateApprovalParams{
		ApprovalDataItemID: "AP_NP",
		PayingAddress:      "SPONSOR",
		ApprovedAddress:    "OWNER",
		ApprovedWincAmount: "700",
	}); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	quote := testArNSQuote("NP_4", "OWNER", 600)
	quote.PaidBy = "SPONSOR"
	if _, err := store.CreateArNSPurchaseQuote(ctx, quote); err != nil {
		t.Fatalf("create quote: %v", err)
	}
	if _, err := store.SubmitArNSPurchase(ctx, "NP_4", "MSG_4"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	approval, err := store.GetApproval(ctx, "AP_NP")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if approval.UsedWincAmount.String() != "600" {
		t.Fatalf("expected approval use 600, got %s", approval.UsedWincAmount.String())
	}
	owner, _ := store.GetUser(ctx, "OWNER")
	if owner.WincBalance.String() != "50" {
		t.Fatalf("owner balance should be untouched, got %s", owner.WincBalance.String())
	}
}
