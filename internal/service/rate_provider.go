package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/infra"

	"github.com/shopspring/decimal"
)

// RateState is what the UI should show next to a rate.
type RateState string

const (
	RateFresh   RateState = "fresh"
	RateWarning RateState = "warning"
	RateError   RateState = "error"
)

// RateSnapshot is the provider's answer for one (asset, chain) pair.
type RateSnapshot struct {
	Asset     string          `json:"asset"`
	Chain     string          `json:"chain"`
	Fiat      string          `json:"fiat"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
	Stale     bool            `json:"stale"`
	State     RateState       `json:"state"`
	Warning   string          `json:"warning,omitempty"`
}

// Usable reports whether the snapshot carries a rate quotes can be computed from.
func (s RateSnapshot) Usable() bool {
	return s.State != RateError && s.Rate.IsPositive()
}

type pairKey struct{ asset, chain string }

func newPairKey(asset, chain string) pairKey {
	return pairKey{strings.ToUpper(asset), strings.ToLower(chain)}
}

type rateEntry struct {
	asset, chain string
	rate         decimal.Decimal
	fetchedAt    time.Time
	lastErr      error
}

// RateProvider caches rates per pair and refreshes them on an interval.
// Fetch failures keep the last known rate and mark it stale.
type RateProvider struct {
	source   domain.RateSource
	clock    clock.Clock
	fiat     string
	ttl      time.Duration
	interval time.Duration
	metrics  *infra.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[pairKey]*rateEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type RateProviderOption func(*RateProvider)

// WithRateTTL sets how long a fetched rate counts as fresh.
func WithRateTTL(d time.Duration) RateProviderOption {
	return func(p *RateProvider) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithPollInterval sets the background refresh interval.
func WithPollInterval(d time.Duration) RateProviderOption {
	return func(p *RateProvider) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMetrics records fetch failures on m.
func WithMetrics(m *infra.Metrics) RateProviderOption {
	return func(p *RateProvider) { p.metrics = m }
}

func NewRateProvider(source domain.RateSource, clk clock.Clock, fiat string, opts ...RateProviderOption) *RateProvider {
	p := &RateProvider{
		source:   source,
		clock:    clk,
		fiat:     fiat,
		ttl:      infra.DefaultRateTTL,
		interval: infra.DefaultRatePoll,
		metrics:  infra.GlobalMetrics,
		logger:   slog.Default().With(slog.String("module", "rate_provider")),
		entries:  make(map[pairKey]*rateEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the cached rate when fresh and refreshes it otherwise.
// It never fails; problems are reported through State and Warning.
func (p *RateProvider) Get(ctx context.Context, asset, chain string) RateSnapshot {
	key := newPairKey(asset, chain)

	p.mu.RLock()
	e, ok := p.entries[key]
	fresh := ok && e.lastErr == nil && !e.rate.IsZero() && p.clock.Now().Sub(e.fetchedAt) < p.ttl
	var snap RateSnapshot
	if fresh {
		snap = p.snapshotLocked(e)
	}
	p.mu.RUnlock()

	if fresh {
		return snap
	}
	return p.Refresh(ctx, asset, chain)
}

// Refresh fetches the pair now regardless of freshness.
func (p *RateProvider) Refresh(ctx context.Context, asset, chain string) RateSnapshot {
	key := newPairKey(asset, chain)
	rate, err := p.source.FetchRate(ctx, asset, p.fiat)

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		e = &rateEntry{asset: asset, chain: chain}
		p.entries[key] = e
	}
	if err != nil {
		e.lastErr = err
		p.metrics.RecordRateFetchFailure()
		p.logger.Warn("Rate fetch failed",
			slog.String("asset", asset),
			slog.String("chain", chain),
			slog.Any("error", err),
		)
	} else {
		e.rate = rate.Value
		e.fetchedAt = observedAt(rate, p.clock.Now())
		e.lastErr = nil
	}
	return p.snapshotLocked(e)
}

// observedAt is the upstream observation time, or now when the source gave
// none or reported one from the future.
func observedAt(rate domain.Rate, now time.Time) time.Time {
	if rate.Timestamp.IsZero() || rate.Timestamp.After(now) {
		return now
	}
	return rate.Timestamp
}

func (p *RateProvider) snapshotLocked(e *rateEntry) RateSnapshot {
	snap := RateSnapshot{
		Asset:     e.asset,
		Chain:     e.chain,
		Fiat:      p.fiat,
		Rate:      e.rate,
		FetchedAt: e.fetchedAt,
		TTL:       p.ttl,
		State:     RateFresh,
	}
	switch {
	case e.lastErr != nil && e.rate.IsZero():
		snap.State = RateError
		snap.Rate = decimal.Zero
		snap.Warning = e.lastErr.Error()
	case e.lastErr != nil:
		warn := &domain.StaleRateWarning{Asset: e.asset, Chain: e.chain, FetchedAt: e.fetchedAt, Err: e.lastErr}
		snap.Stale = true
		snap.State = RateWarning
		snap.Warning = warn.Error()
	case p.clock.Now().Sub(e.fetchedAt) >= p.ttl:
		snap.Stale = true
	}
	return snap
}

// NextRefreshIn returns FetchedAt + TTL - now, clamped at zero.
func (p *RateProvider) NextRefreshIn(asset, chain string) time.Duration {
	p.mu.RLock()
	e, ok := p.entries[newPairKey(asset, chain)]
	p.mu.RUnlock()
	if !ok || e.fetchedAt.IsZero() {
		return 0
	}
	if d := e.fetchedAt.Add(p.ttl).Sub(p.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Track registers a pair for background refresh without fetching it.
func (p *RateProvider) Track(asset, chain string) {
	key := newPairKey(asset, chain)
	p.mu.Lock()
	if _, ok := p.entries[key]; !ok {
		p.entries[key] = &rateEntry{asset: asset, chain: chain}
	}
	p.mu.Unlock()
}

// Start refreshes every tracked pair immediately and then on each interval tick.
func (p *RateProvider) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.refreshAll(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Rate polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Rate polling stopped")
				return
			case <-ticker.C:
				p.refreshAll(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the loop to exit.
func (p *RateProvider) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

func (p *RateProvider) refreshAll(ctx context.Context) {
	p.mu.RLock()
	pairs := make([][2]string, 0, len(p.entries))
	for _, e := range p.entries {
		pairs = append(pairs, [2]string{e.asset, e.chain})
	}
	p.mu.RUnlock()

	for _, pr := range pairs {
		if ctx.Err() != nil {
			return
		}
		p.Refresh(ctx, pr[0], pr[1])
	}
}
