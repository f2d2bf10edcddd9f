package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"turbocredit/currency"
)

// Balance is the spending power view for one address.
type Balance struct {
	// WincBalance is the winc the address holds outright. Funds locked in
	// given approvals are already excluded.
	WincBalance currency.SignedWinc
	// ControlledWinc adds back the unspent remainder of approvals the
	// address has given.
	ControlledWinc currency.SignedWinc
	// EffectiveBalance adds the unspent remainder of approvals the address
	// has received.
	EffectiveBalance currency.SignedWinc
	// GivenApprovals and ReceivedApprovals are the active rows backing the
	// remainders above.
	GivenApprovals    []DelegatedPaymentApproval
	ReceivedApprovals []DelegatedPaymentApproval
}

// GetBalance computes the balance view for an address. Reads go to the
// reader endpoint; approvals summed are active rows only.
func (s *Store) GetBalance(ctx context.Context, address string) (*Balance, error) {
	db := s.reader.WithContext(ctx)
	var user User
	if err := db.Where("address = ?", address).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	var given, received []DelegatedPaymentApproval
	if err := db.Where("paying_address = ?", address).Find(&given).Error; err != nil {
		return nil, fmt.Errorf("load given approvals: %w", err)
	}
	if err := db.Where("approved_address = ?", address).Find(&received).Error; err != nil {
		return nil, fmt.Errorf("load received approvals: %w", err)
	}
	givenRemaining := remainingSum(given)
	receivedRemaining := remainingSum(received)
	return &Balance{
		WincBalance:       user.WincBalance,
		ControlledWinc:    user.WincBalance.PlusWinc(givenRemaining),
		EffectiveBalance:  user.WincBalance.PlusWinc(receivedRemaining),
		GivenApprovals:    given,
		ReceivedApprovals: received,
	}, nil
}

func remainingSum(approvals []DelegatedPaymentApproval) currency.Winc {
	var sum currency.Winc
	for _, approval := range approvals {
		remaining, err := approval.ApprovedWincAmount.Minus(approval.UsedWincAmount)
		if err != nil {
			continue
		}
		sum = sum.Plus(remaining)
	}
	return sum
}

// GetUser loads a user by address.
func (s *Store) GetUser(ctx context.Context, address string) (*User, error) {
	var user User
	err := s.reader.WithContext(ctx).Where("address = ?", address).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// AddCredits credits an address outside any payment flow. Operational
// tooling only; audited as a bypassed payment.
func (s *Store) AddCredits(ctx context.Context, address, addressType string, amount currency.Winc) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		return s.creditUser(tx, address, addressType, amount,
			ReasonBypassedAccountCreation, ReasonBypassedPayment, nil)
	})
}

// creditUser locks-or-creates the user and credits amount, appending the
// audit row inside the caller's transaction. When the user is created the
// creation reason is cited instead of the credit reason.
func (s *Store) creditUser(tx *gorm.DB, address, addressType string, amount currency.Winc, creationReason, creditReason string, changeID *string) error {
	now := s.now().UTC()
	user, err := s.lockUser(tx, address)
	switch {
	case errors.Is(err, ErrUserNotFound):
		created := &User{
			Address:     address,
			AddressType: addressType,
			WincBalance: amount.Delta(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(created).Error; err != nil {
			return fmt.Errorf("create user %s: %w", address, err)
		}
		return s.appendAudit(tx, AuditLogEntry{
			UserAddress:  address,
			WincDelta:    amount.Delta(),
			ChangeReason: creationReason,
			ChangeID:     changeID,
		})
	case err != nil:
		return err
	}
	user.WincBalance = user.WincBalance.PlusWinc(amount)
	user.UpdatedAt = now
	if err := tx.Model(&User{}).Where("address = ?", address).
		Updates(map[string]interface{}{"winc_balance": user.WincBalance, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("credit user %s: %w", address, err)
	}
	return s.appendAudit(tx, AuditLogEntry{
		UserAddress:  address,
		WincDelta:    amount.Delta(),
		ChangeReason: creditReason,
		ChangeID:     changeID,
	})
}

// debitUser subtracts amount from a locked user's balance. Negative results
// are rejected unless allowNegative, the chargeback path.
func (s *Store) debitUser(tx *gorm.DB, user *User, amount currency.Winc, allowNegative bool, reason string, changeID *string) error {
	if !allowNegative && !user.WincBalance.CoversWinc(amount) {
		return &InsufficientBalanceError{
			Address:    user.Address,
			Requested:  amount,
			OwnBalance: user.WincBalance.ClampWinc(),
		}
	}
	now := s.now().UTC()
	user.WincBalance = user.WincBalance.MinusWinc(amount)
	if err := tx.Model(&User{}).Where("address = ?", user.Address).
		Updates(map[string]interface{}{"winc_balance": user.WincBalance, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("debit user %s: %w", user.Address, err)
	}
	return s.appendAudit(tx, AuditLogEntry{
		UserAddress:  user.Address,
		WincDelta:    amount.NegativeDelta(),
		ChangeReason: reason,
		ChangeID:     changeID,
	})
}

// AuditTrail returns the audit rows for an address in insertion order.
func (s *Store) AuditTrail(ctx context.Context, address string) ([]AuditLogEntry, error) {
	var entries []AuditLogEntry
	err := s.reader.WithContext(ctx).
		Where("user_address = ?", address).
		Order("audit_id asc").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	return entries, nil
}
