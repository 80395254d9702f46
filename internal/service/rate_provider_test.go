package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
)

func newTestProvider(src domain.RateSource, clk clock.Clock) *RateProvider {
	return NewRateProvider(src, clk, "NGN", WithRateTTL(30*time.Second), WithMetrics(&infra.Metrics{}))
}

func TestRateProvider_CachesWithinTTL(t *testing.T) {
	src := &fakeRateSource{rate: dec("1584")}
	clk := clock.NewManual(t0)
	p := newTestProvider(src, clk)
	ctx := context.Background()

	first := p.Get(ctx, "USDC", domain.ChainPolygon)
	if first.State != RateFresh || !first.Rate.Equal(dec("1584")) {
		t.Fatalf("unexpected first snapshot %+v", first)
	}

	clk.Advance(10 * time.Second)
	p.Get(ctx, "usdc", "polygon")
	if src.count() != 1 {
		t.Errorf("fetches = %d, want 1 within ttl", src.count())
	}
	if got := p.NextRefreshIn("USDC", domain.ChainPolygon); got != 20*time.Second {
		t.Errorf("next refresh in %v, want 20s", got)
	}

	clk.Advance(25 * time.Second)
	p.Get(ctx, "USDC", domain.ChainPolygon)
	if src.count() != 2 {
		t.Errorf("fetches = %d, want 2 after ttl", src.count())
	}
}

func TestRateProvider_StaleOnFailure(t *testing.T) {
	src := &fakeRateSource{rate: dec("1584")}
	clk := clock.NewManual(t0)
	p := newTestProvider(src, clk)
	ctx := context.Background()

	p.Get(ctx, "USDC", domain.ChainBase)
	src.set(dec("0"), domain.NewNetworkError("fetch_rate", errors.New("timeout")))
	clk.Advance(time.Minute)

	snap := p.Get(ctx, "USDC", domain.ChainBase)
	if snap.State != RateWarning || !snap.Stale {
		t.Fatalf("expected stale warning, got %+v", snap)
	}
	if !snap.Rate.Equal(dec("1584")) {
		t.Errorf("rate = %s, want last known 1584", snap.Rate)
	}
	if !snap.Usable() {
		t.Error("stale rate should still be usable")
	}
	if !strings.Contains(snap.Warning, "stale") {
		t.Errorf("warning %q does not mention staleness", snap.Warning)
	}

	src.set(dec("1590"), nil)
	snap = p.Refresh(ctx, "USDC", domain.ChainBase)
	if snap.State != RateFresh || snap.Stale || !snap.Rate.Equal(dec("1590")) {
		t.Errorf("expected recovery, got %+v", snap)
	}
}

func TestRateProvider_UsesSourceTimestamp(t *testing.T) {
	src := &fakeRateSource{rate: dec("1584"), ts: t0.Add(-20 * time.Second)}
	clk := clock.NewManual(t0)
	p := newTestProvider(src, clk)
	ctx := context.Background()

	snap := p.Get(ctx, "USDC", domain.ChainPolygon)
	if !snap.FetchedAt.Equal(src.ts) {
		t.Errorf("fetched at = %v, want upstream %v", snap.FetchedAt, src.ts)
	}
	if got := p.NextRefreshIn("USDC", domain.ChainPolygon); got != 10*time.Second {
		t.Errorf("next refresh = %v, want 10s", got)
	}

	clk.Advance(10 * time.Second)
	if snap := p.Refresh(ctx, "USDC", domain.ChainPolygon); !snap.Stale {
		t.Error("rate observed 30s ago should be stale")
	}

	// A timestamp ahead of the local clock is not trusted.
	src.ts = clk.Now().Add(time.Hour)
	snap = p.Refresh(ctx, "USDC", domain.ChainPolygon)
	if !snap.FetchedAt.Equal(clk.Now()) || snap.Stale {
		t.Errorf("future timestamp: fetched at %v stale %v", snap.FetchedAt, snap.Stale)
	}
}

func TestRateProvider_ErrorWithoutPriorRate(t *testing.T) {
	src := &fakeRateSource{err: errors.New("down")}
	p := newTestProvider(src, clock.NewManual(t0))

	snap := p.Get(context.Background(), "XLM", domain.ChainStellar)
	if snap.State != RateError || snap.Usable() {
		t.Errorf("expected unusable error snapshot, got %+v", snap)
	}
	if !snap.Rate.IsZero() {
		t.Errorf("rate = %s, want zero", snap.Rate)
	}
}

func TestRateProvider_StartStop(t *testing.T) {
	src := &fakeRateSource{rate: dec("1584")}
	p := NewRateProvider(src, clock.NewSystem(), "NGN", WithPollInterval(5*time.Millisecond), WithMetrics(&infra.Metrics{}))
	p.Track("USDC", domain.ChainPolygon)

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for src.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	n := src.count()
	if n < 3 {
		t.Fatalf("polled %d times, want at least 3", n)
	}
	time.Sleep(20 * time.Millisecond)
	if src.count() != n {
		t.Error("polling continued after Stop")
	}
}
