package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedPromoCode(t *testing.T, store *Store, code string, start, end time.Time) string {
	t.Helper()
	catalog := SingleUseCodePaymentCatalog{
		CatalogID:         "CAT_" + code,
		CodeValue:         code,
		Name:              code + " promo",
		Operator:          "multiply",
		OperatorMagnitude: "0.8",
		StartAt:           start,
	}
	if !end.IsZero() {
		catalog.EndAt = &end
	}
	require.NoError(t, store.writer.Create(&catalog).Error)
	return catalog.CatalogID
}

func TestSingleUseCodeResolution(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	catalogID := seedPromoCode(t, store, "TOKEN2049", now.Add(-time.Hour), time.Time{})

	catalog, err := store.SingleUseCodeCatalog(ctx, "TOKEN2049", "ADDR_A", now)
	require.NoError(t, err)
	require.Equal(t, catalogID, catalog.CatalogID)
	require.Equal(t, "0.8", catalog.OperatorMagnitude)

	_, err = store.SingleUseCodeCatalog(ctx, "UNKNOWN", "ADDR_A", now)
	require.ErrorIs(t, err, ErrPromoCodeNotFound)
}

func TestSingleUseCodeEnforcedPerUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	catalogID := seedPromoCode(t, store, "ONCE", now.Add(-time.Hour), time.Time{})

	quote := testQuote("QP", "ADDR_A", AddressTypeArweave, 100, time.Hour)
	_, err := store.CreateTopUpQuote(ctx, quote, []PaymentAdjustmentParams{{CatalogID: catalogID}})
	require.NoError(t, err)

	// The applied adjustment row marks the code as spent for this address.
	_, err = store.SingleUseCodeCatalog(ctx, "ONCE", "ADDR_A", now)
	require.ErrorIs(t, err, ErrPromoCodeAlreadyUsed)

	// Other addresses may still redeem it.
	_, err = store.SingleUseCodeCatalog(ctx, "ONCE", "ADDR_B", now)
	require.NoError(t, err)
}

func TestExpiredPromoCodeNotResolved(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedPromoCode(t, store, "LAPSED", now.Add(-2*time.Hour), now.Add(-time.Hour))

	_, err := store.SingleUseCodeCatalog(ctx, "LAPSED", "ADDR_A", now)
	require.ErrorIs(t, err, ErrPromoCodeNotFound)
}

func TestActiveCatalogWindows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, store.writer.Create(&UploadAdjustmentCatalog{
		CatalogID: "LIVE", Name: "subsidy", Operator: "multiply",
		OperatorMagnitude: "0.5", Priority: 1, StartAt: past,
	}).Error)
	require.NoError(t, store.writer.Create(&UploadAdjustmentCatalog{
		CatalogID: "FUTURE", Name: "planned", Operator: "multiply",
		OperatorMagnitude: "0.5", Priority: 1, StartAt: future,
	}).Error)
	require.NoError(t, store.writer.Create(&UploadAdjustmentCatalog{
		CatalogID: "ENDED", Name: "ended", Operator: "multiply",
		OperatorMagnitude: "0.5", Priority: 1, StartAt: past.Add(-time.Hour), EndAt: &past,
	}).Error)

	catalogs, err := store.ActiveUploadAdjustmentCatalogs(ctx, now)
	require.NoError(t, err)
	require.Len(t, catalogs, 1)
	require.Equal(t, "LIVE", catalogs[0].CatalogID)
}
