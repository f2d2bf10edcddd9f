package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"turbocredit/currency"
)

// Payment directives control how the payer list is built.
const (
	// DirectiveListOrSigner tries the paidBy list in order, then falls back
	// to the signer's own balance. The default.
	DirectiveListOrSigner = "list-or-signer"
	// DirectiveListOnly uses the paidBy list verbatim; an empty list is a
	// bad request.
	DirectiveListOnly = "list-only"
)

// UploadAdjustmentParams captures one catalog application to a reservation.
type UploadAdjustmentParams struct {
	CatalogID    string
	AdjustedWinc currency.SignedWinc
}

// ReservationParams describes a balance reservation request.
type ReservationParams struct {
	DataItemID         string
	SignerAddress      string
	SignerAddressType  string
	ReservedWincAmount currency.Winc // final price after adjustments
	NetworkWincAmount  currency.Winc
	Adjustments        []UploadAdjustmentParams
	PaidBy             []string
	PaymentDirective   string
}

// CreateBalanceReservation reserves winc for a signed data item, debiting
// the ordered payer list. Payers other than the signer contribute through an
// active approval to the signer; the signer contributes its own balance.
// Anything short of the full amount rolls the transaction back.
func (s *Store) CreateBalanceReservation(ctx context.Context, params ReservationParams) (*BalanceReservation, error) {
	payers, err := buildPayerList(params)
	if err != nil {
		return nil, err
	}
	var reservation *BalanceReservation
	err = s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		var existing int64
		if err := tx.Model(&BalanceReservation{}).
			Where("data_item_id = ?", params.DataItemID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("check reservation: %w", err)
		}
		if existing > 0 {
			return ErrReservationExists
		}
		reservation = &BalanceReservation{
			ReservationID:      uuid.NewString(),
			DataItemID:         params.DataItemID,
			UserAddress:        params.SignerAddress,
			ReservedWincAmount: params.ReservedWincAmount,
			NetworkWincAmount:  params.NetworkWincAmount,
			ReservedAt:         now,
		}
		spends, err := s.debitPayers(tx, payers, params)
		if err != nil {
			return err
		}
		if err := tx.Create(reservation).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrReservationExists
			}
			return fmt.Errorf("insert reservation: %w", err)
		}
		for _, spend := range spends {
			spend.ReservationID = reservation.ReservationID
			if err := tx.Create(&spend).Error; err != nil {
				return fmt.Errorf("insert reservation spend: %w", err)
			}
			reservation.Spends = append(reservation.Spends, spend)
		}
		for i, adj := range params.Adjustments {
			row := AppliedUploadAdjustment{
				CatalogID:       adj.CatalogID,
				ReservationID:   reservation.ReservationID,
				UserAddress:     params.SignerAddress,
				AdjustedWinc:    adj.AdjustedWinc,
				AdjustmentIndex: i,
				AppliedAt:       now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert upload adjustment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func buildPayerList(params ReservationParams) ([]string, error) {
	directive := params.PaymentDirective
	if directive == "" {
		directive = DirectiveListOrSigner
	}
	switch directive {
	case DirectiveListOnly:
		if len(params.PaidBy) == 0 {
			return nil, ErrPaymentDirectiveUnsatisfied
		}
		return params.PaidBy, nil
	case DirectiveListOrSigner:
		payers := make([]string, 0, len(params.PaidBy)+1)
		payers = append(payers, params.PaidBy...)
		for _, p := range payers {
			if p == params.SignerAddress {
				return payers, nil
			}
		}
		return append(payers, params.SignerAddress), nil
	default:
		return nil, fmt.Errorf("unknown payment directive %q", directive)
	}
}

// debitPayers walks the payer list in order, consuming approvals for
// third-party payers and the signer's own balance for the signer, until the
// reserved amount is covered.
func (s *Store) debitPayers(tx *gorm.DB, payers []string, params ReservationParams) ([]ReservationSpend, error) {
	// Snapshot the signer's spending power up front so a shortfall reports
	// the state the caller saw, not the partially debited one.
	shortfall := s.insufficientBalance(tx, params)
	owed := params.ReservedWincAmount
	dataItemID := params.DataItemID
	var spends []ReservationSpend
	for _, payer := range payers {
		if owed.IsZero() {
			break
		}
		if payer == params.SignerAddress {
			spend, err := s.debitSignerBalance(tx, params, ReasonUpload, &owed)
			if err != nil {
				return nil, err
			}
			if spend != nil {
				spends = append(spends, *spend)
			}
			continue
		}
		approvalSpends, err := s.debitApprovals(tx, payer, params.SignerAddress, dataItemID, ReasonApprovedUpload, &owed)
		if err != nil {
			return nil, err
		}
		spends = append(spends, approvalSpends...)
	}
	if !owed.IsZero() {
		return nil, shortfall
	}
	return spends, nil
}

func (s *Store) debitSignerBalance(tx *gorm.DB, params ReservationParams, auditReason string, owed *currency.Winc) (*ReservationSpend, error) {
	user, err := s.lockUser(tx, params.SignerAddress)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil // signer has no balance to contribute
		}
		return nil, err
	}
	available := user.WincBalance.ClampWinc()
	take := available.Min(*owed)
	if take.IsZero() {
		return nil, nil
	}
	changeID := params.DataItemID
	if err := s.debitUser(tx, user, take, false, auditReason, &changeID); err != nil {
		return nil, err
	}
	remaining, err := owed.Minus(take)
	if err != nil {
		return nil, err
	}
	*owed = remaining
	return &ReservationSpend{
		PayingAddress: params.SignerAddress,
		WincAmount:    take,
	}, nil
}

// debitApprovals consumes active approvals from payer to signer, oldest
// first. Each debit increments the approval's used amount; a fully consumed
// approval is archived as used. The approval spend is logged with a zero
// delta: the payer's balance moved when the approval was created.
func (s *Store) debitApprovals(tx *gorm.DB, payer, signer, dataItemID, auditReason string, owed *currency.Winc) ([]ReservationSpend, error) {
	approvals, err := ApprovalsBetween(tx, payer, signer)
	if err != nil {
		return nil, err
	}
	var spends []ReservationSpend
	for i := range approvals {
		if owed.IsZero() {
			break
		}
		approval := &approvals[i]
		remaining, err := approval.ApprovedWincAmount.Minus(approval.UsedWincAmount)
		if err != nil || remaining.IsZero() {
			continue
		}
		take := remaining.Min(*owed)
		approval.UsedWincAmount = approval.UsedWincAmount.Plus(take)
		if err := tx.Model(&DelegatedPaymentApproval{}).
			Where("approval_data_item_id = ?", approval.ApprovalDataItemID).
			Update("used_winc_amount", approval.UsedWincAmount).Error; err != nil {
			return nil, fmt.Errorf("use approval: %w", err)
		}
		if approval.UsedWincAmount.Equals(approval.ApprovedWincAmount) {
			if _, err := s.archiveApproval(tx, approval, ApprovalInactiveUsed, nil, ""); err != nil {
				return nil, err
			}
		}
		changeID := dataItemID
		if err := s.appendAudit(tx, AuditLogEntry{
			UserAddress:  payer,
			WincDelta:    currency.SignedWinc{},
			ChangeReason: auditReason,
			ChangeID:     &changeID,
		}); err != nil {
			return nil, err
		}
		approvalID := approval.ApprovalDataItemID
		spends = append(spends, ReservationSpend{
			PayingAddress:      payer,
			WincAmount:         take,
			ApprovalDataItemID: &approvalID,
		})
		left, err := owed.Minus(take)
		if err != nil {
			return nil, err
		}
		*owed = left
	}
	return spends, nil
}

func (s *Store) insufficientBalance(tx *gorm.DB, params ReservationParams) error {
	failure := &InsufficientBalanceError{
		Address:   params.SignerAddress,
		Requested: params.ReservedWincAmount,
	}
	var user User
	if err := tx.Where("address = ?", params.SignerAddress).First(&user).Error; err == nil {
		failure.OwnBalance = user.WincBalance.ClampWinc()
	}
	var received []DelegatedPaymentApproval
	if err := tx.Where("approved_address = ?", params.SignerAddress).Find(&received).Error; err == nil {
		failure.ReceivedWinc = remainingSum(received)
	}
	return failure
}

// GetReservation loads a reservation and its spends by data item id.
func (s *Store) GetReservation(ctx context.Context, dataItemID string) (*BalanceReservation, error) {
	var reservation BalanceReservation
	err := s.reader.WithContext(ctx).
		Preload("Spends").
		Where("data_item_id = ?", dataItemID).
		First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	return &reservation, nil
}

// RefundBalanceReservation returns the reserved winc to the signer and
// removes the reservation. Finalized uploads never call this; the reserved
// spend simply stands.
func (s *Store) RefundBalanceReservation(ctx context.Context, dataItemID string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		var reservation BalanceReservation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("data_item_id = ?", dataItemID).
			First(&reservation).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("lock reservation: %w", err)
		}
		changeID := reservation.DataItemID
		if err := s.creditUser(tx, reservation.UserAddress, "", reservation.ReservedWincAmount,
			ReasonRefundedUpload, ReasonRefundedUpload, &changeID); err != nil {
			return err
		}
		if err := tx.Delete(&ReservationSpend{}, "reservation_id = ?", reservation.ReservationID).Error; err != nil {
			return fmt.Errorf("delete reservation spends: %w", err)
		}
		if err := tx.Delete(&BalanceReservation{}, "reservation_id = ?", reservation.ReservationID).Error; err != nil {
			return fmt.Errorf("delete reservation: %w", err)
		}
		return nil
	})
}
