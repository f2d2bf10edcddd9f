package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrPromoCodeNotFound is returned for unknown or inactive promo codes.
var ErrPromoCodeNotFound = errors.New("promo code not found")

// ErrPromoCodeAlreadyUsed is returned when a single use code was already
// applied for the address.
var ErrPromoCodeAlreadyUsed = errors.New("promo code already used")

// ActiveUploadAdjustmentCatalogs returns upload catalogs live at the given
// instant, highest priority first.
func (s *Store) ActiveUploadAdjustmentCatalogs(ctx context.Context, now time.Time) ([]UploadAdjustmentCatalog, error) {
	var catalogs []UploadAdjustmentCatalog
	err := s.reader.WithContext(ctx).
		Where("start_at <= ? AND (end_at IS NULL OR end_at > ?)", now.UTC(), now.UTC()).
		Order("priority asc").
		Find(&catalogs).Error
	if err != nil {
		return nil, fmt.Errorf("load upload catalogs: %w", err)
	}
	return catalogs, nil
}

// ActivePaymentAdjustmentCatalogs returns payment catalogs live at the given
// instant, highest priority first.
func (s *Store) ActivePaymentAdjustmentCatalogs(ctx context.Context, now time.Time) ([]PaymentAdjustmentCatalog, error) {
	var catalogs []PaymentAdjustmentCatalog
	err := s.reader.WithContext(ctx).
		Where("start_at <= ? AND (end_at IS NULL OR end_at > ?)", now.UTC(), now.UTC()).
		Order("priority asc").
		Find(&catalogs).Error
	if err != nil {
		return nil, fmt.Errorf("load payment catalogs: %w", err)
	}
	return catalogs, nil
}

// SingleUseCodeCatalog resolves a live promo code, verifying the address has
// not already redeemed it against the applied adjustment history.
func (s *Store) SingleUseCodeCatalog(ctx context.Context, code, userAddress string, now time.Time) (*SingleUseCodePaymentCatalog, error) {
	var catalog SingleUseCodePaymentCatalog
	err := s.reader.WithContext(ctx).
		Where("code_value = ? AND start_at <= ? AND (end_at IS NULL OR end_at > ?)", code, now.UTC(), now.UTC()).
		First(&catalog).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPromoCodeNotFound
		}
		return nil, fmt.Errorf("load promo code: %w", err)
	}
	var used int64
	err = s.reader.WithContext(ctx).Model(&AppliedPaymentAdjustment{}).
		Where("catalog_id = ? AND user_address = ?", catalog.CatalogID, userAddress).
		Count(&used).Error
	if err != nil {
		return nil, fmt.Errorf("check promo code use: %w", err)
	}
	if used > 0 {
		return nil, ErrPromoCodeAlreadyUsed
	}
	return &catalog, nil
}
