package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an offramp order.
type OrderStatus string

const (
	StatusPendingBankDetails OrderStatus = "pending_bank_details"
	StatusPendingSignature   OrderStatus = "pending_signature"
	StatusProcessing         OrderStatus = "processing"
	StatusCompleted          OrderStatus = "completed"
	StatusFailed             OrderStatus = "failed"
	StatusExpired            OrderStatus = "expired"
)

// transitions lists the statuses reachable from each status.
// Terminal statuses have no entry.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPendingBankDetails: {StatusPendingSignature, StatusExpired, StatusFailed},
	StatusPendingSignature:   {StatusPendingSignature, StatusProcessing, StatusExpired, StatusFailed},
	StatusProcessing:         {StatusCompleted, StatusFailed},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPendingBankDetails, StatusPendingSignature, StatusProcessing,
		StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// IsPreProcessing reports whether the order has not been handed to settlement yet.
// Only these orders can expire.
func (s OrderStatus) IsPreProcessing() bool {
	return s == StatusPendingBankDetails || s == StatusPendingSignature
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FeeBreakdown is the structured fee set frozen onto an order at lock time.
// All values are in the order's fiat currency.
type FeeBreakdown struct {
	OfframpFee    decimal.Decimal `json:"offramp_fee"`
	NetworkFee    decimal.Decimal `json:"network_fee"`
	BankFee       decimal.Decimal `json:"bank_fee"`
	Total         decimal.Decimal `json:"total"`
	ReceiveAmount decimal.Decimal `json:"receive_amount"`
}

// Equal compares every component by value.
func (f FeeBreakdown) Equal(other FeeBreakdown) bool {
	return f.OfframpFee.Equal(other.OfframpFee) &&
		f.NetworkFee.Equal(other.NetworkFee) &&
		f.BankFee.Equal(other.BankFee) &&
		f.Total.Equal(other.Total) &&
		f.ReceiveAmount.Equal(other.ReceiveAmount)
}

// BankDetails is the settlement bank account attached by the bank-details step.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// OfframpOrder is a single sell of a crypto holding for fiat paid to a bank account.
type OfframpOrder struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LockExpiresAt time.Time `json:"lock_expires_at"`

	AssetID string          `json:"asset_id"`
	Asset   string          `json:"asset"`
	Chain   string          `json:"chain"`
	Amount  decimal.Decimal `json:"amount"`

	FiatCurrency string          `json:"fiat_currency"`
	Rate         decimal.Decimal `json:"rate"`
	FiatAmount   decimal.Decimal `json:"fiat_amount"`
	Fees         FeeBreakdown    `json:"fees"`

	BankDetails       *BankDetails `json:"bank_details,omitempty"`
	SettlementAddress string       `json:"settlement_address"`
	Memo              string       `json:"memo,omitempty"`
	Signature         string       `json:"signature,omitempty"`
	SourceAddress     string       `json:"source_address,omitempty"`
	TxRef             string       `json:"tx_ref,omitempty"`
	FailureReason     string       `json:"failure_reason,omitempty"`

	Status OrderStatus `json:"status"`
}

// LockExpired reports whether the rate lock has passed at now.
func (o *OfframpOrder) LockExpired(now time.Time) bool {
	return now.After(o.LockExpiresAt)
}

// LockRemaining returns the time left on the rate lock, never negative.
// It is always derived from the absolute deadline.
func (o *OfframpOrder) LockRemaining(now time.Time) time.Duration {
	if d := o.LockExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ReadyForSettlement reports whether the bank-details and signature gate is passed.
func (o *OfframpOrder) ReadyForSettlement() bool {
	return o.BankDetails != nil && o.Signature != "" && o.Status == StatusPendingSignature
}

// Clone returns a deep copy so callers can't mutate stored state.
func (o *OfframpOrder) Clone() *OfframpOrder {
	if o == nil {
		return nil
	}
	cp := *o
	if o.BankDetails != nil {
		bd := *o.BankDetails
		cp.BankDetails = &bd
	}
	return &cp
}

// OrderSeed is what the rate lock hands to the order store for creation.
type OrderSeed struct {
	AssetID           string
	Asset             string
	Chain             string
	Amount            decimal.Decimal
	FiatCurrency      string
	Rate              decimal.Decimal
	FiatAmount        decimal.Decimal
	Fees              FeeBreakdown
	LockedAt          time.Time
	LockExpiresAt     time.Time
	SettlementAddress string
	Memo              string
}

// OrderPatch is a partial update. Nil fields are left unchanged.
// Rate, FiatAmount and Fees exist only so the store can reject attempts to
// change them after lock.
type OrderPatch struct {
	Status            *OrderStatus
	BankDetails       *BankDetails
	Signature         *string
	SourceAddress     *string
	SettlementAddress *string
	Memo              *string
	TxRef             *string
	FailureReason     *string

	Rate       *decimal.Decimal
	FiatAmount *decimal.Decimal
	Fees       *FeeBreakdown
}

// StatusPtr is a small helper for building patches.
func StatusPtr(s OrderStatus) *OrderStatus { return &s }

// StringPtr is a small helper for building patches.
func StringPtr(s string) *string { return &s }

// RateLock is the persisted rate freeze for the session's current order.
type RateLock struct {
	OrderID    string          `json:"order_id"`
	Asset      string          `json:"asset"`
	Chain      string          `json:"chain"`
	Rate       decimal.Decimal `json:"rate"`
	FiatAmount decimal.Decimal `json:"fiat_amount"`
	Fees       FeeBreakdown    `json:"fees"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Remaining returns ExpiresAt - now clamped at zero.
func (l RateLock) Remaining(now time.Time) time.Duration {
	if d := l.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
