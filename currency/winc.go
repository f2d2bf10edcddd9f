// Package currency provides the arbitrary precision monetary types the
// ledger is denominated in. Amounts cross every process boundary as decimal
// strings; floats never carry money.
package currency

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrNegativeWinc is returned when an operation would produce a negative
// winston credit amount.
var ErrNegativeWinc = errors.New("winc amount must not be negative")

// ErrInvalidWinc is returned when a decimal string cannot be parsed as a
// non-negative integer.
var ErrInvalidWinc = errors.New("invalid winc amount")

// WincPerCredit is the number of winston credits in one credit.
var WincPerCredit = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

// Winc is a non-negative arbitrary precision quantity of winston credits.
// The zero value is zero winc and ready to use.
type Winc struct {
	amount *big.Int
}

// NewWinc parses a decimal string into a Winc amount.
func NewWinc(s string) (Winc, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Winc{}, fmt.Errorf("%w: empty string", ErrInvalidWinc)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return Winc{}, fmt.Errorf("%w: %q", ErrInvalidWinc, s)
	}
	if amount.Sign() < 0 {
		return Winc{}, ErrNegativeWinc
	}
	return Winc{amount: amount}, nil
}

// MustWinc parses a decimal string, panicking on failure. Test helper and
// literal-constant use only.
func MustWinc(s string) Winc {
	w, err := NewWinc(s)
	if err != nil {
		panic(err)
	}
	return w
}

// WincFromUint64 converts a machine integer into a Winc amount.
func WincFromUint64(v uint64) Winc {
	return Winc{amount: new(big.Int).SetUint64(v)}
}

// WincFromBigInt copies the provided integer into a Winc amount. Negative
// values are rejected.
func WincFromBigInt(v *big.Int) (Winc, error) {
	if v == nil {
		return Winc{}, fmt.Errorf("%w: nil", ErrInvalidWinc)
	}
	if v.Sign() < 0 {
		return Winc{}, ErrNegativeWinc
	}
	return Winc{amount: new(big.Int).Set(v)}, nil
}

func (w Winc) big() *big.Int {
	if w.amount == nil {
		return new(big.Int)
	}
	return w.amount
}

// BigInt returns a copy of the underlying integer.
func (w Winc) BigInt() *big.Int {
	return new(big.Int).Set(w.big())
}

// String renders the amount as a decimal string.
func (w Winc) String() string {
	return w.big().String()
}

// IsZero reports whether the amount is zero.
func (w Winc) IsZero() bool {
	return w.big().Sign() == 0
}

// Cmp compares two amounts, returning -1, 0 or 1.
func (w Winc) Cmp(other Winc) int {
	return w.big().Cmp(other.big())
}

// Equals reports whether both amounts are the same.
func (w Winc) Equals(other Winc) bool {
	return w.Cmp(other) == 0
}

// Plus returns the sum of both amounts.
func (w Winc) Plus(other Winc) Winc {
	return Winc{amount: new(big.Int).Add(w.big(), other.big())}
}

// Minus returns w minus other, failing with ErrNegativeWinc when the result
// would drop below zero.
func (w Winc) Minus(other Winc) (Winc, error) {
	result := new(big.Int).Sub(w.big(), other.big())
	if result.Sign() < 0 {
		return Winc{}, ErrNegativeWinc
	}
	return Winc{amount: result}, nil
}

// Min returns the smaller of both amounts.
func (w Winc) Min(other Winc) Winc {
	if w.Cmp(other) <= 0 {
		return Winc{amount: new(big.Int).Set(w.big())}
	}
	return Winc{amount: new(big.Int).Set(other.big())}
}

// TimesInt64 scales the amount by a non-negative integer factor.
func (w Winc) TimesInt64(factor int64) (Winc, error) {
	if factor < 0 {
		return Winc{}, ErrNegativeWinc
	}
	return Winc{amount: new(big.Int).Mul(w.big(), big.NewInt(factor))}, nil
}

// TimesRat scales the amount by a non-negative rational factor, truncating
// toward zero. Used by multiplicative adjustments.
func (w Winc) TimesRat(factor *big.Rat) (Winc, error) {
	if factor == nil || factor.Sign() < 0 {
		return Winc{}, ErrNegativeWinc
	}
	scaled := new(big.Int).Mul(w.big(), factor.Num())
	scaled.Quo(scaled, factor.Denom())
	return Winc{amount: scaled}, nil
}

// Delta returns the amount as a signed delta.
func (w Winc) Delta() SignedWinc {
	return SignedWinc{amount: new(big.Int).Set(w.big())}
}

// NegativeDelta returns the amount negated as a signed delta.
func (w Winc) NegativeDelta() SignedWinc {
	return SignedWinc{amount: new(big.Int).Neg(w.big())}
}

// Value implements driver.Valuer, persisting the amount as a decimal string.
func (w Winc) Value() (driver.Value, error) {
	return w.String(), nil
}

// Scan implements sql.Scanner for decimal string columns.
func (w *Winc) Scan(src interface{}) error {
	s, err := scanDecimalString(src)
	if err != nil {
		return err
	}
	parsed, err := NewWinc(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// MarshalJSON renders the amount as a JSON string.
func (w Winc) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or bare number.
func (w *Winc) UnmarshalJSON(data []byte) error {
	parsed, err := NewWinc(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

func scanDecimalString(src interface{}) (string, error) {
	switch v := src.(type) {
	case nil:
		return "0", nil
	case string:
		if strings.TrimSpace(v) == "" {
			return "0", nil
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return "0", nil
		}
		return string(v), nil
	case int64:
		return big.NewInt(v).String(), nil
	default:
		return "", fmt.Errorf("cannot scan %T as decimal amount", src)
	}
}
