package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
	"offramp_go/internal/quote"
)

func newTestOfframp(h *harness, src *fakeRateSource) *Offramp {
	rates := NewRateProvider(src, h.clk, "NGN", WithMetrics(&infra.Metrics{}))
	locks := NewLockManager(h.repo, h.clk)
	return NewOfframp(rates, locks, h.orders, Pricing{
		FiatCurrency: "NGN",
		Fees:         quote.FeeSchedule{BaseFee: dec("815"), NetworkFee: dec("150")},
		Limits:       quote.Limits{MinAmount: dec("1")},
		SettlementAddress: func(chain string) (string, bool) {
			if chain == domain.ChainPolygon {
				return "0x000000000000000000000000000000000000dEaD", true
			}
			return "", false
		},
	})
}

func TestOfframp_Checkout(t *testing.T) {
	h := newHarness(t)
	off := newTestOfframp(h, &fakeRateSource{rate: dec("1584")})
	ctx := context.Background()

	order, lock, err := off.Checkout(ctx, QuoteRequest{AssetID: "usdc-polygon", Amount: "50,000", Denomination: quote.DenominationFiat})
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if !order.FiatAmount.Equal(dec("50000")) || !order.Fees.ReceiveAmount.Equal(dec("49035")) {
		t.Errorf("fiat %s receive %s", order.FiatAmount, order.Fees.ReceiveAmount)
	}
	if !order.Amount.Equal(dec("31.565656")) {
		t.Errorf("amount = %s, want 31.565656", order.Amount)
	}
	if lock.OrderID != order.ID || !lock.ExpiresAt.Equal(order.LockExpiresAt) {
		t.Errorf("lock %+v does not match order", lock)
	}

	current, err := off.Locks().Current(ctx)
	if err != nil || current.OrderID != order.ID {
		t.Errorf("stored lock = %+v, %v", current, err)
	}
}

func TestOfframp_CheckoutRejects(t *testing.T) {
	h := newHarness(t)
	src := &fakeRateSource{rate: dec("1584")}
	off := newTestOfframp(h, src)
	ctx := context.Background()

	_, _, err := off.Checkout(ctx, QuoteRequest{AssetID: "usdc-polygon", Amount: "abc", Denomination: quote.DenominationAsset})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || !ve.Has(domain.CodeInvalidAmount) {
		t.Errorf("expected invalid_amount, got %v", err)
	}

	_, _, err = off.Checkout(ctx, QuoteRequest{AssetID: "usdc-base", Amount: "10", Denomination: quote.DenominationAsset})
	if err == nil {
		t.Error("expected error without settlement address for Base")
	}

	var ua *domain.UnsupportedAssetError
	if _, err := off.Quote(ctx, QuoteRequest{AssetID: "btc-bitcoin", Amount: "1"}); !errors.As(err, &ua) {
		t.Errorf("expected UnsupportedAssetError, got %v", err)
	}

	fresh := newHarness(t)
	down := newTestOfframp(fresh, &fakeRateSource{err: errors.New("down")})
	_, _, err = down.Checkout(ctx, QuoteRequest{AssetID: "usdc-polygon", Amount: "10", Denomination: quote.DenominationAsset})
	if !errors.As(err, &ve) || !ve.Has(domain.CodeMissingRate) {
		t.Errorf("expected missing_rate without any rate, got %v", err)
	}
	if _, err := fresh.orders.Latest(ctx); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Error("order created without a rate")
	}
}

func TestOfframp_Refresh(t *testing.T) {
	h := newHarness(t)
	src := &fakeRateSource{rate: dec("1584")}
	off := newTestOfframp(h, src)
	ctx := context.Background()

	order, _, err := off.Checkout(ctx, QuoteRequest{AssetID: "usdc-polygon", Amount: "100", Denomination: quote.DenominationAsset})
	if err != nil {
		t.Fatal(err)
	}

	h.clk.Advance(16 * time.Minute)
	src.set(dec("1600"), nil)

	next, lock, err := off.Refresh(ctx, order.ID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.ID == order.ID || !next.Amount.Equal(order.Amount) {
		t.Errorf("refreshed order %s amount %s", next.ID, next.Amount)
	}
	if !next.Rate.Equal(dec("1600")) || !next.FiatAmount.Equal(dec("160000")) {
		t.Errorf("rate %s fiat %s, want 1600 / 160000", next.Rate, next.FiatAmount)
	}
	if lock.OrderID != next.ID {
		t.Errorf("lock points at %s", lock.OrderID)
	}

	old, _ := h.orders.Get(ctx, order.ID)
	if old.Status != domain.StatusExpired {
		t.Errorf("old status = %s, want expired", old.Status)
	}
}
