// Package pricing converts fiat amounts and token quantities into winc and
// applies adjustment catalogs. Oracle-backed conversions sit behind the
// Service interface; catalog application is pure arithmetic.
package pricing

import (
	"context"
	"math/big"

	"turbocredit/currency"
)

// Service prices payments, tokens and name purchases. Implementations wrap
// external oracles and are free to cache.
type Service interface {
	// WincForPayment converts a fiat amount in the currency's smallest unit
	// into winc.
	WincForPayment(ctx context.Context, paymentAmount int64, currencyType string) (currency.Winc, error)
	// WincForToken converts a base-unit token quantity into winc.
	WincForToken(ctx context.Context, tokenType string, quantity *big.Int) (currency.Winc, error)
	// WincForArNSName prices a name purchase intent, returning the winc
	// price and the mARIO the purchase will spend on chain.
	WincForArNSName(ctx context.Context, intent, name, purchaseType string, years int) (currency.Winc, currency.Winc, error)
}
