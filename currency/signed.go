package currency

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"strings"
)

// SignedWinc is a winston credit quantity that may be negative. User balances
// and audit deltas use it; chargebacks are the only path that drives a
// balance below zero.
type SignedWinc struct {
	amount *big.Int
}

// NewSignedWinc parses a decimal string, sign permitted.
func NewSignedWinc(s string) (SignedWinc, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return SignedWinc{}, fmt.Errorf("%w: empty string", ErrInvalidWinc)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return SignedWinc{}, fmt.Errorf("%w: %q", ErrInvalidWinc, s)
	}
	return SignedWinc{amount: amount}, nil
}

func (s SignedWinc) big() *big.Int {
	if s.amount == nil {
		return new(big.Int)
	}
	return s.amount
}

// String renders the signed amount as a decimal string.
func (s SignedWinc) String() string {
	return s.big().String()
}

// Sign reports -1, 0 or 1.
func (s SignedWinc) Sign() int {
	return s.big().Sign()
}

// IsNegative reports whether the amount is below zero.
func (s SignedWinc) IsNegative() bool {
	return s.Sign() < 0
}

// Cmp compares two signed amounts.
func (s SignedWinc) Cmp(other SignedWinc) int {
	return s.big().Cmp(other.big())
}

// Plus returns the sum of both signed amounts.
func (s SignedWinc) Plus(other SignedWinc) SignedWinc {
	return SignedWinc{amount: new(big.Int).Add(s.big(), other.big())}
}

// PlusWinc credits an unsigned amount.
func (s SignedWinc) PlusWinc(w Winc) SignedWinc {
	return SignedWinc{amount: new(big.Int).Add(s.big(), w.big())}
}

// MinusWinc debits an unsigned amount. The result may be negative; callers
// enforcing non-negativity check CoversWinc first.
func (s SignedWinc) MinusWinc(w Winc) SignedWinc {
	return SignedWinc{amount: new(big.Int).Sub(s.big(), w.big())}
}

// CoversWinc reports whether the balance is at least the given amount.
func (s SignedWinc) CoversWinc(w Winc) bool {
	return s.big().Cmp(w.big()) >= 0
}

// Winc converts the signed amount to an unsigned one, failing when negative.
func (s SignedWinc) Winc() (Winc, error) {
	if s.IsNegative() {
		return Winc{}, ErrNegativeWinc
	}
	return Winc{amount: new(big.Int).Set(s.big())}, nil
}

// ClampWinc converts to an unsigned amount, treating negatives as zero.
func (s SignedWinc) ClampWinc() Winc {
	if s.IsNegative() {
		return Winc{}
	}
	return Winc{amount: new(big.Int).Set(s.big())}
}

// Value implements driver.Valuer.
func (s SignedWinc) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *SignedWinc) Scan(src interface{}) error {
	str, err := scanDecimalString(src)
	if err != nil {
		return err
	}
	parsed, err := NewSignedWinc(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON renders the signed amount as a JSON string.
func (s SignedWinc) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or bare number.
func (s *SignedWinc) UnmarshalJSON(data []byte) error {
	parsed, err := NewSignedWinc(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
