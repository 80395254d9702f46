package service

import (
	"context"
	"fmt"

	"offramp_go/internal/domain"
	"offramp_go/internal/quote"

	"github.com/shopspring/decimal"
)

// QuoteRequest is the amount-entry form.
type QuoteRequest struct {
	AssetID      string             `json:"asset_id"`
	Amount       string             `json:"amount"`
	Denomination quote.Denomination `json:"denomination"`
	Balance      *decimal.Decimal   `json:"balance,omitempty"`
}

// QuoteResult pairs a quote with the rate it was computed from.
type QuoteResult struct {
	Asset domain.AssetOption `json:"asset"`
	Quote quote.Quote        `json:"quote"`
	Rate  RateSnapshot       `json:"rate"`
}

// Pricing is the fee and limit configuration applied to every quote.
type Pricing struct {
	FiatCurrency string
	Fees         quote.FeeSchedule
	Limits       quote.Limits
	// SettlementAddress returns the platform destination for a chain.
	SettlementAddress func(chain string) (string, bool)
}

// Offramp drives the amount entry and checkout steps: quote, lock and create.
type Offramp struct {
	rates   *RateProvider
	locks   *LockManager
	orders  *OrderStore
	pricing Pricing
}

func NewOfframp(rates *RateProvider, locks *LockManager, orders *OrderStore, pricing Pricing) *Offramp {
	return &Offramp{rates: rates, locks: locks, orders: orders, pricing: pricing}
}

// Quote prices req against the current rate. Invalid input is reported in the
// returned quote, not as an error.
func (o *Offramp) Quote(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
	asset, ok := domain.FindAsset(req.AssetID)
	if !ok {
		return QuoteResult{}, &domain.UnsupportedAssetError{Asset: req.AssetID}
	}
	rate := o.rates.Get(ctx, asset.Asset, asset.Chain)
	return o.price(asset, req, rate), nil
}

func (o *Offramp) price(asset domain.AssetOption, req QuoteRequest, rate RateSnapshot) QuoteResult {
	limits := o.pricing.Limits
	limits.Balance = req.Balance

	in := quote.Input{
		AmountInput:  req.Amount,
		Denomination: req.Denomination,
		Precision:    asset.Decimals,
		Fees:         o.pricing.Fees,
		Limits:       limits,
	}
	if rate.Usable() {
		in.Rate = rate.Rate
	}
	return QuoteResult{Asset: asset, Quote: quote.Compute(in), Rate: rate}
}

// Checkout locks the quoted rate and creates the order.
func (o *Offramp) Checkout(ctx context.Context, req QuoteRequest) (*domain.OfframpOrder, domain.RateLock, error) {
	res, err := o.Quote(ctx, req)
	if err != nil {
		return nil, domain.RateLock{}, err
	}
	return o.lock(ctx, res, func(seed domain.OrderSeed) (*domain.OfframpOrder, error) {
		return o.orders.Create(ctx, seed)
	})
}

// Refresh re-prices the order's amount at a freshly fetched rate, expires the
// old order and locks a new one.
func (o *Offramp) Refresh(ctx context.Context, orderID string) (*domain.OfframpOrder, domain.RateLock, error) {
	old, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, domain.RateLock{}, err
	}
	asset, ok := domain.FindAsset(old.AssetID)
	if !ok {
		return nil, domain.RateLock{}, &domain.UnsupportedAssetError{Asset: old.Asset, Chain: old.Chain}
	}

	rate := o.rates.Refresh(ctx, asset.Asset, asset.Chain)
	res := o.price(asset, QuoteRequest{
		AssetID:      asset.ID,
		Amount:       old.Amount.String(),
		Denomination: quote.DenominationAsset,
	}, rate)

	return o.lock(ctx, res, func(seed domain.OrderSeed) (*domain.OfframpOrder, error) {
		return o.orders.RefreshLock(ctx, orderID, seed)
	})
}

func (o *Offramp) lock(ctx context.Context, res QuoteResult, create func(domain.OrderSeed) (*domain.OfframpOrder, error)) (*domain.OfframpOrder, domain.RateLock, error) {
	dest, ok := o.settlementAddress(res.Asset.Chain)
	if !ok {
		return nil, domain.RateLock{}, fmt.Errorf("no settlement address configured for %s", res.Asset.Chain)
	}

	seed, err := o.locks.Seed(LockRequest{
		Asset:             res.Asset,
		Quote:             res.Quote,
		Rate:              res.Rate,
		FiatCurrency:      o.pricing.FiatCurrency,
		SettlementAddress: dest,
	})
	if err != nil {
		return nil, domain.RateLock{}, err
	}

	order, err := create(seed)
	if err != nil {
		return nil, domain.RateLock{}, err
	}
	lock, err := o.locks.Lock(ctx, order)
	if err != nil {
		return nil, domain.RateLock{}, err
	}
	return order, lock, nil
}

func (o *Offramp) settlementAddress(chain string) (string, bool) {
	if o.pricing.SettlementAddress == nil {
		return "", false
	}
	return o.pricing.SettlementAddress(chain)
}

// Orders exposes the order store for read paths.
func (o *Offramp) Orders() *OrderStore { return o.orders }

// Locks exposes the lock manager for countdown reads.
func (o *Offramp) Locks() *LockManager { return o.locks }
