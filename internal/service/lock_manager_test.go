package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/infra/storage"
	"offramp_go/internal/quote"
)

func lockRequest(t *testing.T) LockRequest {
	t.Helper()
	asset, _ := domain.FindAsset("usdc-polygon")
	q := quote.Compute(quote.Input{
		AmountInput:  "50000",
		Denomination: quote.DenominationFiat,
		Precision:    asset.Decimals,
		Rate:         dec("1584"),
		Fees:         quote.FeeSchedule{BaseFee: dec("815"), NetworkFee: dec("150")},
	})
	return LockRequest{
		Asset:             asset,
		Quote:             q,
		Rate:              RateSnapshot{Rate: dec("1584"), State: RateFresh},
		FiatCurrency:      "NGN",
		SettlementAddress: "0x000000000000000000000000000000000000dEaD",
	}
}

func TestLockManager_Seed(t *testing.T) {
	clk := clock.NewManual(t0)
	m := NewLockManager(storage.NewMemory(), clk)

	seed, err := m.Seed(lockRequest(t))
	if err != nil {
		t.Fatal(err)
	}
	if !seed.LockExpiresAt.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("expires at %v, want t0+15m", seed.LockExpiresAt)
	}
	if !seed.Amount.Equal(dec("31.565656")) {
		t.Errorf("amount = %s, want 31.565656 at 6 decimals", seed.Amount)
	}
	if !seed.Fees.ReceiveAmount.Equal(dec("49035")) {
		t.Errorf("receive = %s, want 49035", seed.Fees.ReceiveAmount)
	}
}

func TestLockManager_SeedRejects(t *testing.T) {
	m := NewLockManager(storage.NewMemory(), clock.NewManual(t0))

	req := lockRequest(t)
	req.Quote.IsValid = false
	req.Quote.Errors = []domain.ValidationIssue{{Code: domain.CodeBelowMinimum}}
	var ve *domain.ValidationError
	if _, err := m.Seed(req); !errors.As(err, &ve) || !ve.Has(domain.CodeBelowMinimum) {
		t.Errorf("expected below_minimum, got %v", err)
	}

	req = lockRequest(t)
	req.Rate = RateSnapshot{State: RateError}
	if _, err := m.Seed(req); !errors.As(err, &ve) || !ve.Has(domain.CodeMissingRate) {
		t.Errorf("expected missing_rate for unusable rate, got %v", err)
	}

	req = lockRequest(t)
	req.Rate.Rate = dec("1600")
	if _, err := m.Seed(req); !errors.As(err, &ve) {
		t.Errorf("expected rejection for quote computed at another rate, got %v", err)
	}

	req = lockRequest(t)
	req.Rate.State = RateWarning
	req.Rate.Stale = true
	if _, err := m.Seed(req); err != nil {
		t.Errorf("stale rate should be lockable: %v", err)
	}

	req = lockRequest(t)
	req.SettlementAddress = ""
	if _, err := m.Seed(req); err == nil {
		t.Error("expected error without settlement address")
	}
}

func TestLockManager_LockAndCurrent(t *testing.T) {
	h := newHarness(t)
	m := NewLockManager(h.repo, h.clk, WithLockWindow(10*time.Minute))
	ctx := context.Background()

	if _, err := m.Current(ctx); !errors.Is(err, domain.ErrNoActiveLock) {
		t.Errorf("expected ErrNoActiveLock, got %v", err)
	}

	seed, err := m.Seed(lockRequest(t))
	if err != nil {
		t.Fatal(err)
	}
	order, err := h.orders.Create(ctx, seed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Lock(ctx, order); err != nil {
		t.Fatal(err)
	}

	h.clk.Advance(4 * time.Minute)
	lock, err := m.Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if lock.OrderID != order.ID {
		t.Errorf("lock order = %s, want %s", lock.OrderID, order.ID)
	}
	if got := m.Remaining(lock); got != 6*time.Minute {
		t.Errorf("remaining = %v, want 6m", got)
	}
}

func TestLockManager_CountdownExpires(t *testing.T) {
	clk := clock.NewManual(t0)
	m := NewLockManager(storage.NewMemory(), clk)
	lock := domain.RateLock{CreatedAt: t0, ExpiresAt: t0.Add(15 * time.Minute)}

	var seen []time.Duration
	err := m.Countdown(context.Background(), lock, time.Millisecond, func(left time.Duration) {
		seen = append(seen, left)
		clk.Advance(8 * time.Minute)
	})
	if !errors.Is(err, domain.ErrOrderExpired) {
		t.Fatalf("expected ErrOrderExpired, got %v", err)
	}
	want := []time.Duration{15 * time.Minute, 7 * time.Minute, 0}
	if len(seen) != len(want) {
		t.Fatalf("ticks = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("tick %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestLockManager_CountdownCancel(t *testing.T) {
	m := NewLockManager(storage.NewMemory(), clock.NewManual(t0))
	lock := domain.RateLock{ExpiresAt: t0.Add(time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := m.Countdown(ctx, lock, time.Millisecond, func(time.Duration) {
		calls++
		if calls == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Errorf("cancel should end countdown cleanly, got %v", err)
	}
}
