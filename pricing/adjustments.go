package pricing

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"turbocredit/currency"
)

// Catalog operators.
const (
	OperatorAdd      = "add"
	OperatorMultiply = "multiply"
)

// Adjustment is one priceable rule, already resolved from its catalog row.
type Adjustment struct {
	CatalogID string
	Name      string
	Operator  string
	// Magnitude is the add delta (winc or smallest fiat unit, may be
	// negative) or the multiply factor, as a decimal string.
	Magnitude string
	Priority  int
}

// Applied records the delta one adjustment produced.
type Applied struct {
	CatalogID    string
	Name         string
	AdjustedWinc currency.SignedWinc
}

// zeroRat floors multiplicative factors: negative factors are rejected, so a
// catalog can never multiply a price below zero.
var zeroRat = new(big.Rat)

// ApplyToWinc runs the adjustments in priority order against a winc price,
// returning the final price and the per-catalog deltas.
func ApplyToWinc(base currency.Winc, adjustments []Adjustment) (currency.Winc, []Applied, error) {
	ordered := make([]Adjustment, len(adjustments))
	copy(ordered, adjustments)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	price := base
	applied := make([]Applied, 0, len(ordered))
	for _, adj := range ordered {
		next, err := applyOne(price, adj)
		if err != nil {
			return currency.Winc{}, nil, err
		}
		applied = append(applied, Applied{
			CatalogID:    adj.CatalogID,
			Name:         adj.Name,
			AdjustedWinc: delta(price, next),
		})
		price = next
	}
	return price, applied, nil
}

func applyOne(price currency.Winc, adj Adjustment) (currency.Winc, error) {
	magnitude := strings.TrimSpace(adj.Magnitude)
	switch adj.Operator {
	case OperatorAdd:
		signed, err := currency.NewSignedWinc(magnitude)
		if err != nil {
			return currency.Winc{}, fmt.Errorf("catalog %s: %w", adj.CatalogID, err)
		}
		// Additive discounts clamp at zero rather than failing the quote.
		return price.Delta().Plus(signed).ClampWinc(), nil
	case OperatorMultiply:
		factor, ok := new(big.Rat).SetString(magnitude)
		if !ok {
			return currency.Winc{}, fmt.Errorf("catalog %s: bad magnitude %q", adj.CatalogID, magnitude)
		}
		if factor.Cmp(zeroRat) < 0 {
			return currency.Winc{}, fmt.Errorf("catalog %s: negative multiplier", adj.CatalogID)
		}
		return price.TimesRat(factor)
	default:
		return currency.Winc{}, fmt.Errorf("catalog %s: unknown operator %q", adj.CatalogID, adj.Operator)
	}
}

func delta(before, after currency.Winc) currency.SignedWinc {
	return after.Delta().Plus(before.NegativeDelta())
}
