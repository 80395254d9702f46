package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
	"offramp_go/internal/quote"
)

// LockRequest is everything captured when the user confirms a quote.
type LockRequest struct {
	Asset             domain.AssetOption
	Quote             quote.Quote
	Rate              RateSnapshot
	FiatCurrency      string
	SettlementAddress string
}

// LockManager freezes a quote's rate and fees for a fixed window.
type LockManager struct {
	store  domain.LockStore
	clock  clock.Clock
	window time.Duration
}

type LockManagerOption func(*LockManager)

// WithLockWindow overrides the default 15 minute window.
func WithLockWindow(d time.Duration) LockManagerOption {
	return func(m *LockManager) {
		if d > 0 {
			m.window = d
		}
	}
}

func NewLockManager(store domain.LockStore, clk clock.Clock, opts ...LockManagerOption) *LockManager {
	m := &LockManager{store: store, clock: clk, window: infra.DefaultLockWindow}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Window returns the configured lock duration.
func (m *LockManager) Window() time.Duration { return m.window }

// Seed validates the quote and captures rate, fiat amount and fees into an order seed.
// A stale rate is accepted; a missing one is not.
func (m *LockManager) Seed(req LockRequest) (domain.OrderSeed, error) {
	if err := req.Quote.Err(); err != nil {
		return domain.OrderSeed{}, err
	}
	if !req.Rate.Usable() || !req.Quote.Rate.Equal(req.Rate.Rate) {
		return domain.OrderSeed{}, &domain.ValidationError{Issues: []domain.ValidationIssue{{
			Code:    domain.CodeMissingRate,
			Message: "quote was not computed from the current rate",
		}}}
	}
	if req.SettlementAddress == "" {
		return domain.OrderSeed{}, fmt.Errorf("no settlement address for %s", req.Asset.Chain)
	}

	now := m.clock.Now()
	return domain.OrderSeed{
		AssetID:           req.Asset.ID,
		Asset:             req.Asset.Asset,
		Chain:             req.Asset.Chain,
		Amount:            req.Quote.Amount,
		FiatCurrency:      req.FiatCurrency,
		Rate:              req.Quote.Rate,
		FiatAmount:        req.Quote.FiatAmount,
		Fees:              req.Quote.Fees,
		LockedAt:          now,
		LockExpiresAt:     now.Add(m.window),
		SettlementAddress: req.SettlementAddress,
	}, nil
}

// Lock persists the rate lock of a freshly created order, replacing any previous lock.
func (m *LockManager) Lock(ctx context.Context, order *domain.OfframpOrder) (domain.RateLock, error) {
	lock := domain.RateLock{
		OrderID:    order.ID,
		Asset:      order.Asset,
		Chain:      order.Chain,
		Rate:       order.Rate,
		FiatAmount: order.FiatAmount,
		Fees:       order.Fees,
		CreatedAt:  order.CreatedAt,
		ExpiresAt:  order.LockExpiresAt,
	}
	if err := m.store.SaveLock(ctx, lock); err != nil {
		return domain.RateLock{}, fmt.Errorf("save rate lock: %w", err)
	}
	return lock, nil
}

// Current loads the stored lock.
func (m *LockManager) Current(ctx context.Context) (domain.RateLock, error) {
	lock, err := m.store.LoadLock(ctx)
	if err != nil {
		return domain.RateLock{}, err
	}
	if lock == nil {
		return domain.RateLock{}, domain.ErrNoActiveLock
	}
	return *lock, nil
}

// Remaining recomputes the time left from the absolute deadline.
func (m *LockManager) Remaining(lock domain.RateLock) time.Duration {
	return lock.Remaining(m.clock.Now())
}

// Countdown calls fn with the remaining time on every tick until the lock
// expires or ctx is cancelled. It returns domain.ErrOrderExpired on expiry.
func (m *LockManager) Countdown(ctx context.Context, lock domain.RateLock, tick time.Duration, fn func(time.Duration)) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		left := m.Remaining(lock)
		fn(left)
		if left == 0 {
			return domain.ErrOrderExpired
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
