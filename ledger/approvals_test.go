package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"turbocredit/currency"
)

func TestApprovalCreateRevokeRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "PAYER", 1000)

	approval, err := store.CreateDelegatedPaymentApproval(ctx, CreateApprovalParams{
		ApprovalDataItemID: "AP_RT",
		PayingAddress:      "PAYER",
		ApprovedAddress:    "SPENDER",
		ApprovedWincAmount: "400",
	})
	if err != nil {
		t.Fatalf("create approval: %v", err)
	}
	if approval.UsedWincAmount.String() != "0" {
		t.Fatalf("fresh approval has use: %s", approval.UsedWincAmount.String())
	}
	user, _ := store.GetUser(ctx, "PAYER")
	if user.WincBalance.String() != "600" {
		t.Fatalf("approval should debit payer, got %s", user.WincBalance.String())
	}

	archived, err := store.RevokeDelegatedPaymentApproval(ctx, "AP_RT", "RV_1")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if archived.InactiveReason != ApprovalInactiveRevoked || archived.RevokeDataItemID == nil || *archived.RevokeDataItemID != "RV_1" {
		t.Fatalf("unexpected archive: %+v", archived)
	}
	user, _ = store.GetUser(ctx, "PAYER")
	if user.WincBalance.String() != "1000" {
		t.Fatalf("revoke should return the full amount, got %s", user.WincBalance.String())
	}
	auditSum(t, store, "PAYER")
}

func TestApprovalRevokeRefundsRemainderOnly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "PAYER", 1000)

	if _, err := store.CreateDelegatedPaymentApproval(ctx, CreateApprovalParams{
		ApprovalDataItemID: "AP_PART",
		PayingAddress:      "PAYER",
		ApprovedAddress:    "SPENDER",
		ApprovedWincAmount: "400",
	}); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	if _, err := store.CreateBalanceReservation(ctx, ReservationParams{
		DataItemID:         "DI_AP",
		SignerAddress:      "SPENDER",
		SignerAddressType:  AddressTypeArweave,
		ReservedWincAmount: currency.WincFromUint64(150),
		NetworkWincAmount:  currency.WincFromUint64(150),
		PaidBy:             []string{"PAYER"},
		PaymentDirective:   DirectiveListOnly,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.RevokeDelegatedPaymentApproval(ctx, "AP_PART", "RV_2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	user, _ := store.GetUser(ctx, "PAYER")
	if user.WincBalance.String() != "850" {
		t.Fatalf("expected 1000-400+250=850, got %s", user.WincBalance.String())
	}
	auditSum(t, store, "PAYER")
}

func TestApprovalRequiresBalance(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "PAYER", 100)

	_, err := store.CreateDelegatedPaymentApproval(ctx, CreateApprovalParams{
		ApprovalDataItemID: "AP_POOR",
		PayingAddress:      "PAYER",
		ApprovedAddress:    "SPENDER",
		ApprovedWincAmount: "400",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	_, err = store.CreateDelegatedPaymentApproval(ctx, CreateApprovalParams{
		ApprovalDataItemID: "AP_NOBODY",
		PayingAddress:      "GHOST",
		ApprovedAddress:    "SPENDER",
		ApprovedWincAmount: "1",
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user-not-found, got %v", err)
	}
}

func TestApprovalDuplicateDataItemID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "PAYER", 1000)
	params := CreateApprovalParams{
		ApprovalDataItemID: "AP_DUP",
		PayingAddress:      "PAYER",
		ApprovedAddress:    "SPENDER",
		ApprovedWincAmount: "100",
	}
	if _, err := store.CreateDelegatedPaymentApproval(ctx, params); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	if _, err := store.CreateDelegatedPaymentApproval(ctx, params); !errors.Is(err, ErrApprovalExists) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	// Archived ids stay taken.
	if _, err := store.RevokeDelegatedPaymentApproval(ctx, "AP_DUP", "RV"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.CreateDelegatedPaymentApproval(ctx, params); !errors.Is(err, ErrApprovalExists) {
		t.Fatalf("expected archived id rejection, got %v", err)
	}
}

func TestApprovalExpirySweep(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "PAYER", 1000)

	if _, err := store.CreateDelegatedPaymentApproval(ctx, CreateApprovalParams{
		ApprovalDataItemID: "AP_EXP",
		PayingAddress:      "PAYER",
		ApprovedAddress:    "SPENDER",
		ApprovedWincAmount: "250",
		ExpiresInSeconds:   60,
	}); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	expired, err := store.ExpireDelegatedPaymentApprovals(ctx, time.Now().UTC().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected one expiry, got %d", expired)
	}
	inactive, err := store.GetInactiveApproval(ctx, "AP_EXP")
	if err != nil {
		t.Fatalf("get inactive: %v", err)
	}
	if inactive.InactiveReason != ApprovalInactiveExpired {
		t.Fatalf("unexpected reason: %s", inactive.InactiveReason)
	}
	user, _ := store.GetUser(ctx, "PAYER")
	if user.WincBalance.String() != "1000" {
		t.Fatalf("expiry should refund, got %s", user.WincBalance.String())
	}
	entries, _ := store.AuditTrail(ctx, "PAYER")
	last := entries[len(entries)-1]
	if last.ChangeReason != ReasonDelegatedPaymentExpired {
		t.Fatalf("unexpected audit reason: %s", last.ChangeReason)
	}
	auditSum(t, store, "PAYER")
}

func TestGetBalanceViews(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "PAYER", 1000)
	seedUser(t, store, "SPENDER", 50)

	if _, err := store.CreateDelegatedPaymentApproval(ctx, CreateApprovalParams{
		ApprovalDataItemID: "AP_BAL",
		PayingAddress:      "PAYER",
		ApprovedAddress:    "SPENDER",
		ApprovedWincAmount: "300",
	}); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	payer, err := store.GetBalance(ctx, "PAYER")
	if err != nil {
		t.Fatalf("payer balance: %v", err)
	}
	if payer.WincBalance.String() != "700" {
		t.Fatalf("payer spendable should exclude the grant: %s", payer.WincBalance.String())
	}
	if payer.ControlledWinc.String() != "1000" {
		t.Fatalf("payer controlled should include unspent grants: %s", payer.ControlledWinc.String())
	}
	if len(payer.GivenApprovals) != 1 || len(payer.ReceivedApprovals) != 0 {
		t.Fatalf("unexpected approval sets: %+v", payer)
	}
	spender, err := store.GetBalance(ctx, "SPENDER")
	if err != nil {
		t.Fatalf("spender balance: %v", err)
	}
	if spender.WincBalance.String() != "50" {
		t.Fatalf("unexpected spender balance: %s", spender.WincBalance.String())
	}
	if spender.EffectiveBalance.String() != "350" {
		t.Fatalf("spender effective should include received grants: %s", spender.EffectiveBalance.String())
	}
}
