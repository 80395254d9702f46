package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
)

// errSubmissionInFlight guards against two concurrent submits of one order.
var errSubmissionInFlight = errors.New("submission already in progress")

// Submitter builds the locked payment, broadcasts it once and hands the order to processing.
type Submitter struct {
	orders      *OrderStore
	builders    []domain.PaymentBuilder
	broadcaster domain.Broadcaster
	clock       clock.Clock
	metrics     *infra.Metrics
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewSubmitter(orders *OrderStore, broadcaster domain.Broadcaster, clk clock.Clock, builders ...domain.PaymentBuilder) *Submitter {
	return &Submitter{
		orders:      orders,
		builders:    builders,
		broadcaster: broadcaster,
		clock:       clk,
		metrics:     infra.GlobalMetrics,
		logger:      slog.Default().With(slog.String("module", "settlement")),
		inflight:    make(map[string]struct{}),
	}
}

// BuildPayment returns the unsigned transaction for the order's locked amount,
// asset and destination. Unknown assets fail closed.
func (s *Submitter) BuildPayment(ctx context.Context, order *domain.OfframpOrder) (domain.UnsignedTx, error) {
	if !order.ReadyForSettlement() {
		return domain.UnsignedTx{}, fmt.Errorf("%w: order %s is %s", domain.ErrNotReady, order.ID, order.Status)
	}

	asset, ok := domain.FindAsset(order.AssetID)
	if !ok || asset.Asset != order.Asset || asset.Chain != order.Chain {
		return domain.UnsignedTx{}, &domain.UnsupportedAssetError{Asset: order.Asset, Chain: order.Chain}
	}

	builder := s.builderFor(asset)
	if builder == nil {
		return domain.UnsignedTx{}, &domain.UnsupportedAssetError{Asset: asset.Asset, Chain: asset.Chain}
	}

	return builder.BuildPayment(ctx, domain.PaymentRequest{
		OrderID:     order.ID,
		Source:      order.SourceAddress,
		Destination: order.SettlementAddress,
		Asset:       asset,
		Amount:      order.Amount,
		Memo:        order.Memo,
	})
}

func (s *Submitter) builderFor(asset domain.AssetOption) domain.PaymentBuilder {
	for _, b := range s.builders {
		if b.Supports(asset) {
			return b
		}
	}
	return nil
}

// SignAndSubmit builds the payment, has the wallet sign it and submits it.
func (s *Submitter) SignAndSubmit(ctx context.Context, orderID string, wallet domain.Wallet) (*domain.OfframpOrder, error) {
	order, err := s.ready(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unsigned, err := s.BuildPayment(ctx, order)
	if err != nil {
		return nil, err
	}

	signed, err := wallet.SignTransaction(ctx, unsigned)
	if err != nil {
		if errors.Is(err, domain.ErrSigningCancelled) {
			s.metrics.RecordSigningCancelled()
		}
		return nil, &domain.SubmissionError{OrderID: orderID, Err: signingError(err)}
	}
	return s.Submit(ctx, orderID, signed)
}

// Submit broadcasts signed exactly once. A failure leaves the order awaiting
// an explicit retry; nothing is resent automatically.
func (s *Submitter) Submit(ctx context.Context, orderID string, signed domain.SignedTx) (*domain.OfframpOrder, error) {
	s.mu.Lock()
	if _, busy := s.inflight[orderID]; busy {
		s.mu.Unlock()
		return nil, &domain.SubmissionError{OrderID: orderID, Err: errSubmissionInFlight}
	}
	s.inflight[orderID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, orderID)
		s.mu.Unlock()
	}()

	// Readiness is checked under the reservation so a caller holding an
	// older view of the order cannot broadcast after another submit landed.
	if _, err := s.ready(ctx, orderID); err != nil {
		return nil, err
	}

	ref, err := s.broadcaster.Broadcast(ctx, signed)
	if err != nil {
		s.metrics.RecordSubmissionFailure()
		s.logger.Error("Payment submission failed",
			slog.String("order_id", orderID),
			slog.String("chain", signed.Chain),
			slog.Any("error", err),
		)
		return nil, &domain.SubmissionError{OrderID: orderID, Err: err}
	}

	s.logger.Info("Payment submitted",
		slog.String("order_id", orderID),
		slog.String("chain", signed.Chain),
		slog.String("tx_ref", ref),
	)
	return s.orders.MarkProcessing(ctx, orderID, ref)
}

// ready loads the order and checks the signature gate and the lock.
func (s *Submitter) ready(ctx context.Context, orderID string) (*domain.OfframpOrder, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.LockExpired(s.clock.Now()) && order.Status.IsPreProcessing() {
		if _, err := s.orders.Expire(ctx, orderID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order %s", domain.ErrOrderExpired, orderID)
	}
	if !order.ReadyForSettlement() {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrNotReady, orderID, order.Status)
	}
	return order, nil
}
