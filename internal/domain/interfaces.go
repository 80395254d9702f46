package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Rate is one observation from a rate source: fiat per asset unit.
type Rate struct {
	Asset     string
	Fiat      string
	Value     decimal.Decimal
	Timestamp time.Time // zero when the source does not report one
}

// RateSource defines the interface for exchange rate sources
type RateSource interface {
	FetchRate(ctx context.Context, asset, fiat string) (Rate, error)
}

// AccountResolver resolves the holder name of a bank account.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, bankCode, accountNumber string) (string, error)
}

// AttemptLimiter bounds how often a subject may try something within a window.
// Allow consumes one attempt and reports whether it was permitted.
type AttemptLimiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// UnsignedTx is a chain-specific payment ready for the wallet.
type UnsignedTx struct {
	Chain   string `json:"chain"`
	ChainID int64  `json:"chain_id,omitempty"`
	// Encoded is the hex serialized transaction.
	Encoded string `json:"encoded"`
	// Hash is the digest the wallet signs, when the chain has one.
	Hash string `json:"hash,omitempty"`
}

// SignedTx is the wallet's output for an UnsignedTx.
type SignedTx struct {
	Chain   string `json:"chain"`
	Encoded string `json:"encoded"`
}

// Wallet is the capability interface for the connected user wallet.
// Any implementation satisfying it is interchangeable.
type Wallet interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	PublicKey() string
	SignMessage(ctx context.Context, message, publicKey string) (string, error)
	SignTransaction(ctx context.Context, tx UnsignedTx) (SignedTx, error)
}

// PaymentRequest is the locked payment leg of an order.
type PaymentRequest struct {
	OrderID     string
	Source      string
	Destination string
	Asset       AssetOption
	Amount      decimal.Decimal
	Memo        string
}

// PaymentBuilder turns a locked payment into an unsigned transaction for one chain family.
type PaymentBuilder interface {
	Supports(asset AssetOption) bool
	BuildPayment(ctx context.Context, req PaymentRequest) (UnsignedTx, error)
}

// Broadcaster submits a signed transaction and returns its reference.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx SignedTx) (string, error)
}

// SettlementState is what an external status source reports for a submitted order.
type SettlementState string

const (
	SettlementPending   SettlementState = "pending"
	SettlementCompleted SettlementState = "completed"
	SettlementFailed    SettlementState = "failed"
)

// StatusSource reports settlement progress for a processing order.
type StatusSource interface {
	SettlementStatus(ctx context.Context, order *OfframpOrder) (SettlementState, error)
}

// OrderRepository persists orders.
// CreateOrder writes the id-keyed record and the latest-order pointer together.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *OfframpOrder) error
	GetOrder(ctx context.Context, id string) (*OfframpOrder, error)
	SaveOrder(ctx context.Context, order *OfframpOrder) error
	LatestOrder(ctx context.Context) (*OfframpOrder, error)
	ListOrdersByStatus(ctx context.Context, statuses ...OrderStatus) ([]*OfframpOrder, error)
}

// LockStore persists the single active rate lock (last write wins).
type LockStore interface {
	SaveLock(ctx context.Context, lock RateLock) error
	LoadLock(ctx context.Context) (*RateLock, error)
}

// AccountStore persists saved bank accounts, most-recent-first.
type AccountStore interface {
	SaveAccounts(ctx context.Context, accounts []SavedAccount) error
	LoadAccounts(ctx context.Context) ([]SavedAccount, error)
}

// Store bundles every persistence concern of one backend.
type Store interface {
	OrderRepository
	LockStore
	AccountStore
	Close() error
}

// OrderEvent describes one committed lifecycle change.
type OrderEvent struct {
	Seq     uint64        `json:"seq"`
	Type    string        `json:"type"`
	OrderID string        `json:"order_id"`
	Status  OrderStatus   `json:"status"`
	Order   *OfframpOrder `json:"order"`
	At      time.Time     `json:"at"`
}

// Event types.
const (
	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.updated"
)

// EventPublisher ships lifecycle events to an external broker.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev OrderEvent) error
	Close()
}
