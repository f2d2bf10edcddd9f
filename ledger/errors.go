package ledger

import (
	"errors"
	"fmt"

	"turbocredit/currency"
)

// State errors surfaced to callers with a mapped HTTP status.
var (
	ErrUserNotFound                = errors.New("user not found")
	ErrQuoteNotFound               = errors.New("top up quote not found")
	ErrQuoteExpired                = errors.New("top up quote expired")
	ErrQuoteExists                 = errors.New("top up quote already exists")
	ErrPaymentReceiptExists        = errors.New("payment receipt already exists")
	ErrPaymentReceiptNotFound      = errors.New("payment receipt not found")
	ErrApprovalNotFound            = errors.New("delegated payment approval not found")
	ErrApprovalExists              = errors.New("delegated payment approval already exists")
	ErrReservationNotFound         = errors.New("balance reservation not found")
	ErrReservationExists           = errors.New("balance reservation already exists")
	ErrTransactionAlreadyCredited  = errors.New("payment transaction already credited")
	ErrTransactionNotPending       = errors.New("payment transaction not pending")
	ErrGiftNotFound                = errors.New("unredeemed gift not found")
	ErrGiftExpired                 = errors.New("gift expired")
	ErrGiftAlreadyRedeemed         = errors.New("gift already redeemed")
	ErrArNSPurchaseNotFound        = errors.New("name purchase not found")
	ErrArNSPurchaseExists          = errors.New("name purchase already exists")
	ErrPaymentDirectiveUnsatisfied = errors.New("payment directive requires at least one paying address")
)

// InsufficientBalanceError reports a failed debit together with the spending
// power breakdown the caller can surface to the user.
type InsufficientBalanceError struct {
	Address      string
	Requested    currency.Winc
	OwnBalance   currency.Winc
	ReceivedWinc currency.Winc
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: requested %s, own %s, received approvals %s",
		e.Address, e.Requested.String(), e.OwnBalance.String(), e.ReceivedWinc.String())
}

// ErrInsufficientBalance lets callers match any insufficient balance failure
// with errors.Is.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Is makes InsufficientBalanceError match ErrInsufficientBalance.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
