package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateApprovalParams describes a new delegated payment approval.
type CreateApprovalParams struct {
	ApprovalDataItemID string
	PayingAddress      string
	ApprovedAddress    string
	ApprovedWincAmount string // decimal winc
	ExpiresInSeconds   int64  // zero means no expiry
}

// CreateDelegatedPaymentApproval earmarks winc from the paying address for
// the approved address. The amount leaves the payer's balance immediately
// and returns, net of use, on revoke or expiry.
func (s *Store) CreateDelegatedPaymentApproval(ctx context.Context, params CreateApprovalParams) (*DelegatedPaymentApproval, error) {
	amount, err := parseWinc(params.ApprovedWincAmount)
	if err != nil {
		return nil, err
	}
	var approval *DelegatedPaymentApproval
	err = s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		if taken, err := approvalExists(tx, params.ApprovalDataItemID); err != nil {
			return err
		} else if taken {
			return ErrApprovalExists
		}
		user, err := s.lockUser(tx, params.PayingAddress)
		if err != nil {
			return err
		}
		changeID := params.ApprovalDataItemID
		if err := s.debitUser(tx, user, amount, false, ReasonDelegatedPaymentApproval, &changeID); err != nil {
			return err
		}
		approval = &DelegatedPaymentApproval{
			ApprovalDataItemID: params.ApprovalDataItemID,
			PayingAddress:      params.PayingAddress,
			ApprovedAddress:    params.ApprovedAddress,
			ApprovedWincAmount: amount,
			CreatedAt:          now,
		}
		if params.ExpiresInSeconds > 0 {
			expires := now.Add(time.Duration(params.ExpiresInSeconds) * time.Second)
			approval.ExpiresAt = &expires
		}
		if err := tx.Create(approval).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrApprovalExists
			}
			return fmt.Errorf("insert approval: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// approvalExists checks the active and inactive sets for the data item id.
func approvalExists(tx *gorm.DB, approvalDataItemID string) (bool, error) {
	var active int64
	if err := tx.Model(&DelegatedPaymentApproval{}).
		Where("approval_data_item_id = ?", approvalDataItemID).
		Count(&active).Error; err != nil {
		return false, fmt.Errorf("check approval: %w", err)
	}
	if active > 0 {
		return true, nil
	}
	var inactive int64
	if err := tx.Model(&InactiveDelegatedPaymentApproval{}).
		Where("approval_data_item_id = ?", approvalDataItemID).
		Count(&inactive).Error; err != nil {
		return false, fmt.Errorf("check inactive approval: %w", err)
	}
	return inactive > 0, nil
}

// RevokeDelegatedPaymentApproval archives an active approval as revoked and
// refunds the unspent remainder to the paying address.
func (s *Store) RevokeDelegatedPaymentApproval(ctx context.Context, approvalDataItemID, revokeDataItemID string) (*InactiveDelegatedPaymentApproval, error) {
	var archived *InactiveDelegatedPaymentApproval
	err := s.transact(ctx, func(tx *gorm.DB) error {
		approval, err := lockApproval(tx, approvalDataItemID)
		if err != nil {
			return err
		}
		revokeID := revokeDataItemID
		archived, err = s.archiveApproval(tx, approval, ApprovalInactiveRevoked, &revokeID,
			ReasonDelegatedPaymentRevoke)
		return err
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

// ExpireDelegatedPaymentApprovals archives every active approval whose
// expiry has passed, refunding remainders. Returns the number archived.
func (s *Store) ExpireDelegatedPaymentApprovals(ctx context.Context, now time.Time) (int, error) {
	var ids []string
	err := s.reader.WithContext(ctx).Model(&DelegatedPaymentApproval{}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Pluck("approval_data_item_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find expired approvals: %w", err)
	}
	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		err := s.transact(ctx, func(tx *gorm.DB) error {
			approval, err := lockApproval(tx, id)
			if err != nil {
				return err
			}
			if approval.ExpiresAt == nil || approval.ExpiresAt.After(now) {
				return nil // extended or raced; leave it
			}
			_, err = s.archiveApproval(tx, approval, ApprovalInactiveExpired, nil,
				ReasonDelegatedPaymentExpired)
			return err
		})
		if err != nil {
			if errors.Is(err, ErrApprovalNotFound) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func lockApproval(tx *gorm.DB, approvalDataItemID string) (*DelegatedPaymentApproval, error) {
	var approval DelegatedPaymentApproval
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("approval_data_item_id = ?", approvalDataItemID).
		First(&approval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("lock approval: %w", err)
	}
	return &approval, nil
}

// archiveApproval moves an approval into the inactive set. For revoked and
// expired approvals the unspent remainder returns to the payer with the
// given audit reason; fully used approvals move with no balance change.
func (s *Store) archiveApproval(tx *gorm.DB, approval *DelegatedPaymentApproval, reason string, revokeDataItemID *string, auditReason string) (*InactiveDelegatedPaymentApproval, error) {
	now := s.now().UTC()
	archived := &InactiveDelegatedPaymentApproval{
		ApprovalDataItemID: approval.ApprovalDataItemID,
		PayingAddress:      approval.PayingAddress,
		ApprovedAddress:    approval.ApprovedAddress,
		ApprovedWincAmount: approval.ApprovedWincAmount,
		UsedWincAmount:     approval.UsedWincAmount,
		CreatedAt:          approval.CreatedAt,
		ExpiresAt:          approval.ExpiresAt,
		InactiveReason:     reason,
		InactiveAt:         now,
		RevokeDataItemID:   revokeDataItemID,
	}
	if err := tx.Create(archived).Error; err != nil {
		return nil, fmt.Errorf("insert inactive approval: %w", err)
	}
	if err := tx.Delete(&DelegatedPaymentApproval{}, "approval_data_item_id = ?", approval.ApprovalDataItemID).Error; err != nil {
		return nil, fmt.Errorf("delete approval: %w", err)
	}
	if reason == ApprovalInactiveUsed {
		return archived, nil
	}
	remaining, err := approval.ApprovedWincAmount.Minus(approval.UsedWincAmount)
	if err != nil {
		return nil, fmt.Errorf("approval %s used beyond grant: %w", approval.ApprovalDataItemID, err)
	}
	changeID := approval.ApprovalDataItemID
	if err := s.creditUser(tx, approval.PayingAddress, "", remaining,
		auditReason, auditReason, &changeID); err != nil {
		return nil, err
	}
	return archived, nil
}

// GetApproval looks up an active approval by data item id.
func (s *Store) GetApproval(ctx context.Context, approvalDataItemID string) (*DelegatedPaymentApproval, error) {
	var approval DelegatedPaymentApproval
	err := s.reader.WithContext(ctx).
		Where("approval_data_item_id = ?", approvalDataItemID).
		First(&approval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("load approval: %w", err)
	}
	return &approval, nil
}

// GetInactiveApproval looks up an archived approval by data item id.
func (s *Store) GetInactiveApproval(ctx context.Context, approvalDataItemID string) (*InactiveDelegatedPaymentApproval, error) {
	var approval InactiveDelegatedPaymentApproval
	err := s.reader.WithContext(ctx).
		Where("approval_data_item_id = ?", approvalDataItemID).
		First(&approval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("load inactive approval: %w", err)
	}
	return &approval, nil
}

// ApprovalsBetween enumerates active approvals from payer to approved
// address, oldest first.
func ApprovalsBetween(tx *gorm.DB, payingAddress, approvedAddress string) ([]DelegatedPaymentApproval, error) {
	var approvals []DelegatedPaymentApproval
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("paying_address = ? AND approved_address = ?", payingAddress, approvedAddress).
		Order("created_at asc").
		Find(&approvals).Error
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	return approvals, nil
}
