// Package ledger persists the credit accounting state: users and balances,
// top up quotes and their receipts, pending crypto payments, balance
// reservations, delegated payment approvals, and the append-only audit log
// whose per-user sum always equals the live balance.
package ledger

import (
	"time"

	"gorm.io/gorm"

	"turbocredit/currency"
)

// Address types accepted for users and payment destinations.
const (
	AddressTypeArweave  = "arweave"
	AddressTypeARIO     = "ario"
	AddressTypeSolana   = "solana"
	AddressTypeEd25519  = "ed25519"
	AddressTypeEthereum = "ethereum"
	AddressTypeKyve     = "kyve"
	AddressTypeMatic    = "matic"
	AddressTypePol      = "pol"
	AddressTypeBaseEth  = "base-eth"
	// AddressTypeEmail marks gift destinations; emails never become users.
	AddressTypeEmail = "email"
)

// Audit change reasons. Every balance mutation cites exactly one.
const (
	ReasonUpload                   = "upload"
	ReasonApprovedUpload           = "approved_upload"
	ReasonPayment                  = "payment"
	ReasonCryptoPayment            = "crypto_payment"
	ReasonBypassedPayment          = "bypassed_payment"
	ReasonAccountCreation          = "account_creation"
	ReasonBypassedAccountCreation  = "bypassed_account_creation"
	ReasonChargeback               = "chargeback"
	ReasonRefund                   = "refund"
	ReasonRefundedUpload           = "refunded_upload"
	ReasonGiftedPayment            = "gifted_payment"
	ReasonBypassedGiftedPayment    = "bypassed_gifted_payment"
	ReasonGiftedPaymentRedemption  = "gifted_payment_redemption"
	ReasonGiftedAccountCreation    = "gifted_account_creation"
	ReasonDelegatedPaymentApproval = "delegated_payment_approval"
	ReasonDelegatedPaymentRevoke   = "delegated_payment_revoke"
	ReasonDelegatedPaymentExpired  = "delegated_payment_expired"
	ReasonArNSAccountCreation      = "arns_account_creation"
	ReasonArNSPurchaseOrder        = "arns_purchase_order"
	ReasonApprovedArNSPurchase     = "approved_arns_purchase_order"
	ReasonArNSPurchaseFailed       = "arns_purchase_order_failed"
)

// Inactive approval reasons.
const (
	ApprovalInactiveExpired = "expired"
	ApprovalInactiveUsed    = "used"
	ApprovalInactiveRevoked = "revoked"
)

// User holds the live winc balance for an address. Balances only go negative
// through chargebacks, which the audit log flags.
type User struct {
	Address         string              `gorm:"primaryKey;size:128"`
	AddressType     string              `gorm:"size:16;index"`
	WincBalance     currency.SignedWinc `gorm:"type:text;not null"`
	PromotionalInfo []byte              `gorm:"type:jsonb"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TopUpQuoteFields are the quote attributes copied forward when a quote is
// fulfilled, failed or charged back. The chain of sibling rows is keyed by
// QuoteID rather than in-memory back pointers.
type TopUpQuoteFields struct {
	DestinationAddress     string        `gorm:"size:320;index"`
	DestinationAddressType string        `gorm:"size:16"`
	PaymentAmount          int64         `gorm:"not null"`
	QuotedPaymentAmount    int64         `gorm:"not null"`
	CurrencyType           string        `gorm:"size:8"`
	WincAmount             currency.Winc `gorm:"type:text;not null"`
	Provider               string        `gorm:"size:32"`
	GiftMessage            *string       `gorm:"size:512"`
	QuotedAt               time.Time
	ExpiresAt              time.Time
}

// TopUpQuote is a promise to credit WincAmount once the provider confirms
// payment. Immutable once created; state transitions move it into a sibling
// table.
type TopUpQuote struct {
	QuoteID          string `gorm:"primaryKey;size:64"`
	TopUpQuoteFields `gorm:"embedded"`
	CreatedAt        time.Time
}

// PaymentReceipt records a settled quote. Exactly one receipt per quote.
type PaymentReceipt struct {
	ReceiptID        string `gorm:"primaryKey;size:64"`
	TopUpQuoteFields `gorm:"embedded"`
	QuoteID          string `gorm:"uniqueIndex;size:64"`
	SenderEmail      *string `gorm:"size:320"`
	ReceiptAt        time.Time
}

// FailedTopUpQuote archives a quote that expired or was failed by the
// provider.
type FailedTopUpQuote struct {
	QuoteID          string `gorm:"primaryKey;size:64"`
	TopUpQuoteFields `gorm:"embedded"`
	FailedReason     string `gorm:"size:64"`
	QuoteFailedAt    time.Time
}

// ChargebackReceipt archives a receipt the provider clawed back. The
// destination is debited by the receipt amount, negative balances permitted.
type ChargebackReceipt struct {
	ChargebackID     string `gorm:"primaryKey;size:64"`
	ReceiptID        string `gorm:"uniqueIndex;size:64"`
	QuoteID          string `gorm:"size:64;index"`
	TopUpQuoteFields `gorm:"embedded"`
	ChargebackReason string `gorm:"size:128"`
	ChargebackAt     time.Time
}

// PendingPaymentTransaction is an observed on-chain payment awaiting
// confirmation. (TxID, TokenType) is unique across the pending, credited and
// failed sets combined.
type PendingPaymentTransaction struct {
	TxID                   string        `gorm:"primaryKey;size:128"`
	TokenType              string        `gorm:"primaryKey;size:16"`
	Quantity               currency.Winc `gorm:"type:text;not null"` // base token units
	WincAmount             currency.Winc `gorm:"type:text;not null"`
	DestinationAddress     string        `gorm:"size:128;index"`
	DestinationAddressType string        `gorm:"size:16"`
	CreatedAt              time.Time
}

// CreditedPaymentTransaction is a pending transaction whose confirmation
// threshold was met and whose winc was credited.
type CreditedPaymentTransaction struct {
	TxID                   string        `gorm:"primaryKey;size:128"`
	TokenType              string        `gorm:"primaryKey;size:16"`
	Quantity               currency.Winc `gorm:"type:text;not null"`
	WincAmount             currency.Winc `gorm:"type:text;not null"`
	DestinationAddress     string        `gorm:"size:128;index"`
	DestinationAddressType string        `gorm:"size:16"`
	CreatedAt              time.Time
	CreditedAt             time.Time
	BlockHeight            int64
}

// FailedPaymentTransaction is a pending transaction that will never credit.
type FailedPaymentTransaction struct {
	TxID                   string        `gorm:"primaryKey;size:128"`
	TokenType              string        `gorm:"primaryKey;size:16"`
	Quantity               currency.Winc `gorm:"type:text;not null"`
	WincAmount             currency.Winc `gorm:"type:text;not null"`
	DestinationAddress     string        `gorm:"size:128;index"`
	DestinationAddressType string        `gorm:"size:16"`
	CreatedAt              time.Time
	FailedReason           string `gorm:"size:64"`
	FailedAt               time.Time
}

// BalanceReservation holds winc reserved for a signed data item. The spend
// breakdown lives in ReservationSpend rows.
type BalanceReservation struct {
	ReservationID      string        `gorm:"primaryKey;size:64"`
	DataItemID         string        `gorm:"uniqueIndex;size:64"`
	UserAddress        string        `gorm:"size:128;index"`
	ReservedWincAmount currency.Winc `gorm:"type:text;not null"`
	NetworkWincAmount  currency.Winc `gorm:"type:text;not null"`
	ReservedAt         time.Time
	Spends             []ReservationSpend `gorm:"foreignKey:ReservationID"`
}

// ReservationSpend records one payer's share of a reservation. Approval-paid
// shares carry the approval id.
type ReservationSpend struct {
	ID                 int64         `gorm:"primaryKey;autoIncrement"`
	ReservationID      string        `gorm:"size:64;index"`
	PayingAddress      string        `gorm:"size:128;index"`
	WincAmount         currency.Winc `gorm:"type:text;not null"`
	ApprovalDataItemID *string       `gorm:"size:64"`
}

// DelegatedPaymentApproval earmarks a payer's winc for another address to
// spend on uploads. The earmarked amount is debited from the payer's balance
// at creation and returned (net of use) on revoke or expiry.
type DelegatedPaymentApproval struct {
	ApprovalDataItemID string        `gorm:"primaryKey;size:64"`
	PayingAddress      string        `gorm:"size:128;index:idx_approval_pair"`
	ApprovedAddress    string        `gorm:"size:128;index:idx_approval_pair"`
	ApprovedWincAmount currency.Winc `gorm:"type:text;not null"`
	UsedWincAmount     currency.Winc `gorm:"type:text;not null"`
	CreatedAt          time.Time
	ExpiresAt          *time.Time `gorm:"index"`
}

// InactiveDelegatedPaymentApproval archives a fully used, revoked or expired
// approval.
type InactiveDelegatedPaymentApproval struct {
	ApprovalDataItemID string        `gorm:"primaryKey;size:64"`
	PayingAddress      string        `gorm:"size:128;index"`
	ApprovedAddress    string        `gorm:"size:128;index"`
	ApprovedWincAmount currency.Winc `gorm:"type:text;not null"`
	UsedWincAmount     currency.Winc `gorm:"type:text;not null"`
	CreatedAt          time.Time
	ExpiresAt          *time.Time
	InactiveReason     string  `gorm:"size:16"`
	InactiveAt         time.Time
	RevokeDataItemID   *string `gorm:"size:64"`
}

// UploadAdjustmentCatalog prices upload discounts and surcharges.
type UploadAdjustmentCatalog struct {
	CatalogID          string `gorm:"primaryKey;size:64"`
	Name               string `gorm:"size:128"`
	Description        string `gorm:"size:512"`
	Operator           string `gorm:"size:16"`
	OperatorMagnitude  string `gorm:"size:32"` // decimal string
	Priority           int    `gorm:"index"`
	StartAt            time.Time
	EndAt              *time.Time
	ByteCountThreshold int64
	WincLimitation     currency.Winc `gorm:"type:text"`
	LimitationInterval time.Duration
	Exclusive          bool
}

// PaymentAdjustmentCatalog prices fiat top up discounts and surcharges.
type PaymentAdjustmentCatalog struct {
	CatalogID         string `gorm:"primaryKey;size:64"`
	Name              string `gorm:"size:128"`
	Description       string `gorm:"size:512"`
	Operator          string `gorm:"size:16"`
	OperatorMagnitude string `gorm:"size:32"`
	Priority          int    `gorm:"index"`
	StartAt           time.Time
	EndAt             *time.Time
	Exclusive         bool
}

// SingleUseCodePaymentCatalog is a promo code redeemable once per user.
type SingleUseCodePaymentCatalog struct {
	CatalogID             string `gorm:"primaryKey;size:64"`
	CodeValue             string `gorm:"uniqueIndex;size:64"`
	Name                  string `gorm:"size:128"`
	Operator              string `gorm:"size:16"`
	OperatorMagnitude     string `gorm:"size:32"`
	Priority              int
	StartAt               time.Time
	EndAt                 *time.Time
	TargetUserGroup       string `gorm:"size:32"` // all | new
	MaxUses               int
	MinimumPaymentAmount  int64
}

// AppliedUploadAdjustment records the delta a catalog applied to one
// reservation.
type AppliedUploadAdjustment struct {
	ID              int64               `gorm:"primaryKey;autoIncrement"`
	CatalogID       string              `gorm:"size:64;index"`
	ReservationID   string              `gorm:"size:64;index"`
	UserAddress     string              `gorm:"size:128;index"`
	AdjustedWinc    currency.SignedWinc `gorm:"type:text;not null"`
	AdjustmentIndex int
	AppliedAt       time.Time
}

// AppliedPaymentAdjustment records the delta a catalog applied to one quote.
type AppliedPaymentAdjustment struct {
	ID              int64               `gorm:"primaryKey;autoIncrement"`
	CatalogID       string              `gorm:"size:64;index"`
	QuoteID         string              `gorm:"size:64;index"`
	UserAddress     string              `gorm:"size:320;index"`
	AdjustedWinc    currency.SignedWinc `gorm:"type:text;not null"`
	AdjustmentIndex int
	AppliedAt       time.Time
}

// UnredeemedGift ties an email-addressed receipt to a future redemption.
type UnredeemedGift struct {
	PaymentReceiptID string        `gorm:"primaryKey;size:64"`
	RecipientEmail   string        `gorm:"size:320;index"`
	SenderEmail      *string       `gorm:"size:320"`
	GiftedWincAmount currency.Winc `gorm:"type:text;not null"`
	GiftMessage      *string       `gorm:"size:512"`
	CreatedAt        time.Time
	ExpiresAt        time.Time `gorm:"index"`
}

// RedeemedGift archives a gift that was claimed by a chain address.
type RedeemedGift struct {
	PaymentReceiptID   string        `gorm:"primaryKey;size:64"`
	RecipientEmail     string        `gorm:"size:320"`
	SenderEmail        *string       `gorm:"size:320"`
	GiftedWincAmount   currency.Winc `gorm:"type:text;not null"`
	GiftMessage        *string       `gorm:"size:512"`
	CreatedAt          time.Time
	ExpiresAt          time.Time
	DestinationAddress string    `gorm:"size:128;index"`
	RedeemedAt         time.Time
}

// ArNSPurchaseFields are the name purchase attributes copied across
// lifecycle tables.
type ArNSPurchaseFields struct {
	Name          string        `gorm:"size:128;index"`
	Intent        string        `gorm:"size:32"` // buy-record | extend-lease | increase-undername-limit
	PurchaseType  string        `gorm:"size:16"` // lease | permabuy
	OwnerAddress  string        `gorm:"size:128;index"`
	WincAmount    currency.Winc `gorm:"type:text;not null"`
	MARIOAmount   currency.Winc `gorm:"type:text;not null"`
	PaidBy        string        `gorm:"size:512"` // comma separated payer list
	QuotedAt      time.Time
	ExpiresAt     time.Time
}

// ArNSPurchaseQuote is a priced name purchase awaiting submission.
type ArNSPurchaseQuote struct {
	PurchaseID         string `gorm:"primaryKey;size:64"`
	ArNSPurchaseFields `gorm:"embedded"`
	CreatedAt          time.Time
}

// PendingArNSPurchase is a submitted name purchase whose winc was debited
// and whose on-chain message is in flight.
type PendingArNSPurchase struct {
	PurchaseID         string `gorm:"primaryKey;size:64"`
	ArNSPurchaseFields `gorm:"embedded"`
	MessageID          string `gorm:"size:64;index"`
	PendingAt          time.Time
}

// SuccessfulArNSPurchase archives a settled name purchase.
type SuccessfulArNSPurchase struct {
	PurchaseID         string `gorm:"primaryKey;size:64"`
	ArNSPurchaseFields `gorm:"embedded"`
	MessageID          string `gorm:"size:64;index"`
	SucceededAt        time.Time
}

// FailedArNSPurchase archives a name purchase whose on-chain action failed;
// its winc was refunded.
type FailedArNSPurchase struct {
	PurchaseID         string `gorm:"primaryKey;size:64"`
	ArNSPurchaseFields `gorm:"embedded"`
	MessageID          string `gorm:"size:64"`
	FailedReason       string `gorm:"size:128"`
	FailedAt           time.Time
}

// AuditLogEntry is the append-only record of every signed winc delta. Rows
// are never updated or deleted; the per-user sum equals the live balance.
type AuditLogEntry struct {
	AuditID      int64               `gorm:"primaryKey;autoIncrement"`
	UserAddress  string              `gorm:"size:128;index"`
	WincDelta    currency.SignedWinc `gorm:"type:text;not null"`
	ChangeReason string              `gorm:"size:48;index"`
	ChangeID     *string             `gorm:"size:128"`
	CreatedAt    time.Time           `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the ledger.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&TopUpQuote{},
		&PaymentReceipt{},
		&FailedTopUpQuote{},
		&ChargebackReceipt{},
		&PendingPaymentTransaction{},
		&CreditedPaymentTransaction{},
		&FailedPaymentTransaction{},
		&BalanceReservation{},
		&ReservationSpend{},
		&DelegatedPaymentApproval{},
		&InactiveDelegatedPaymentApproval{},
		&UploadAdjustmentCatalog{},
		&PaymentAdjustmentCatalog{},
		&SingleUseCodePaymentCatalog{},
		&AppliedUploadAdjustment{},
		&AppliedPaymentAdjustment{},
		&UnredeemedGift{},
		&RedeemedGift{},
		&ArNSPurchaseQuote{},
		&PendingArNSPurchase{},
		&SuccessfulArNSPurchase{},
		&FailedArNSPurchase{},
		&AuditLogEntry{},
	)
}
