// Package storage persists orders, the active rate lock and saved bank accounts.
// Every backend uses the same logical key layout so data can be moved between them.
package storage

import (
	"errors"
	"slices"

	"offramp_go/internal/domain"
)

const (
	KeyLatestOrder   = "offramp:latest-order"
	KeyRateLock      = "offramp:rate-lock"
	KeySavedAccounts = "aframp_saved_accounts"
	orderKeyPrefix   = "offramp:order:"
)

// OrderKey returns the record key for an order id.
func OrderKey(id string) string { return orderKeyPrefix + id }

// ErrDuplicateOrder is returned when CreateOrder is called with an existing id.
var ErrDuplicateOrder = errors.New("order id already exists")

func statusIn(s domain.OrderStatus, statuses []domain.OrderStatus) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}
