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

	"github.com/google/uuid"
)

// stellarMemoLimit is the max length of a Stellar text memo.
const stellarMemoLimit = 28

// EventSink receives every committed lifecycle change.
type EventSink interface {
	Emit(ev domain.OrderEvent)
}

type nopSink struct{}

func (nopSink) Emit(domain.OrderEvent) {}

// OrderStore owns the order lifecycle: creation, guarded updates and expiry.
type OrderStore struct {
	repo    domain.OrderRepository
	clock   clock.Clock
	events  EventSink
	metrics *infra.Metrics
	logger  *slog.Logger
	newID   func() string

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

type OrderStoreOption func(*OrderStore)

// WithEventSink routes lifecycle events to sink.
func WithEventSink(sink EventSink) OrderStoreOption {
	return func(s *OrderStore) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithOrderMetrics records lifecycle counters on m.
func WithOrderMetrics(m *infra.Metrics) OrderStoreOption {
	return func(s *OrderStore) { s.metrics = m }
}

// WithIDGenerator overrides id generation. Used by tests.
func WithIDGenerator(fn func() string) OrderStoreOption {
	return func(s *OrderStore) { s.newID = fn }
}

func NewOrderStore(repo domain.OrderRepository, clk clock.Clock, opts ...OrderStoreOption) *OrderStore {
	s := &OrderStore{
		repo:    repo,
		clock:   clk,
		events:  nopSink{},
		metrics: infra.GlobalMetrics,
		logger:  slog.Default().With(slog.String("module", "order_store")),
		newID:   func() string { return "offramp-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create assigns a fresh id and stores the order with the latest pointer.
func (s *OrderStore) Create(ctx context.Context, seed domain.OrderSeed) (*domain.OfframpOrder, error) {
	if err := validateSeed(seed); err != nil {
		return nil, err
	}

	id := s.newID()
	memo := seed.Memo
	if memo == "" {
		memo = id
	}
	if seed.Chain == domain.ChainStellar && len(memo) > stellarMemoLimit {
		memo = memo[:stellarMemoLimit]
	}

	order := &domain.OfframpOrder{
		ID:                id,
		CreatedAt:         seed.LockedAt,
		UpdatedAt:         seed.LockedAt,
		LockExpiresAt:     seed.LockExpiresAt,
		AssetID:           seed.AssetID,
		Asset:             seed.Asset,
		Chain:             seed.Chain,
		Amount:            seed.Amount,
		FiatCurrency:      seed.FiatCurrency,
		Rate:              seed.Rate,
		FiatAmount:        seed.FiatAmount,
		Fees:              seed.Fees,
		SettlementAddress: seed.SettlementAddress,
		Memo:              memo,
		Status:            domain.StatusPendingBankDetails,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.metrics.RecordOrderCreated()
	s.logger.Info("Order created",
		slog.String("order_id", order.ID),
		slog.String("asset", order.Asset),
		slog.String("chain", order.Chain),
		slog.String("fiat_amount", order.FiatAmount.String()),
		slog.Time("lock_expires_at", order.LockExpiresAt),
	)
	s.emit(domain.EventOrderCreated, order)
	return order.Clone(), nil
}

func validateSeed(seed domain.OrderSeed) error {
	switch {
	case !seed.Amount.IsPositive():
		return errors.New("order amount must be positive")
	case !seed.Rate.IsPositive():
		return errors.New("order rate must be positive")
	case seed.Fees.OfframpFee.IsNegative(), seed.Fees.NetworkFee.IsNegative(), seed.Fees.BankFee.IsNegative():
		return errors.New("order fees must not be negative")
	case !seed.LockExpiresAt.After(seed.LockedAt):
		return errors.New("lock must expire after it is taken")
	}
	return nil
}

// Get returns domain.ErrOrderNotFound for unknown ids.
func (s *OrderStore) Get(ctx context.Context, id string) (*domain.OfframpOrder, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return order, nil
}

// Latest returns the most recently created order.
func (s *OrderStore) Latest(ctx context.Context) (*domain.OfframpOrder, error) {
	order, err := s.repo.LatestOrder(ctx)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// Update applies patch after checking the lifecycle rules.
// An order whose lock has passed is expired instead of advanced.
func (s *OrderStore) Update(ctx context.Context, id string, patch domain.OrderPatch) (*domain.OfframpOrder, error) {
	return s.update(ctx, id, patch, true)
}

func (s *OrderStore) update(ctx context.Context, id string, patch domain.OrderPatch, expiryGate bool) (*domain.OfframpOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if expiryGate && advances(patch) && order.Status.IsPreProcessing() && order.LockExpired(now) {
		if _, err := s.commit(ctx, order, domain.OrderPatch{Status: domain.StatusPtr(domain.StatusExpired)}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order %s", domain.ErrOrderExpired, id)
	}

	return s.commit(ctx, order, patch)
}

// advances reports whether the patch moves the order forward through the flow.
func advances(p domain.OrderPatch) bool {
	if p.BankDetails != nil || p.Signature != nil {
		return true
	}
	return p.Status != nil && (*p.Status == domain.StatusPendingSignature || *p.Status == domain.StatusProcessing)
}

// commit validates patch against order, then saves and emits. Caller holds mu.
func (s *OrderStore) commit(ctx context.Context, order *domain.OfframpOrder, patch domain.OrderPatch) (*domain.OfframpOrder, error) {
	next, err := apply(order, patch)
	if err != nil {
		return nil, s.reject(order, err)
	}
	next.UpdatedAt = s.clock.Now()

	if err := s.repo.SaveOrder(ctx, next); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	if next.Status != order.Status {
		s.metrics.RecordStatus(next.Status)
		s.logger.Info("Order status changed",
			slog.String("order_id", next.ID),
			slog.String("from", string(order.Status)),
			slog.String("to", string(next.Status)),
		)
	}
	s.emit(domain.EventOrderUpdated, next)
	return next.Clone(), nil
}

// apply returns the patched copy of order or an *domain.InvalidTransitionError.
func apply(order *domain.OfframpOrder, p domain.OrderPatch) (*domain.OfframpOrder, error) {
	invalid := func(to domain.OrderStatus, field string) error {
		return &domain.InvalidTransitionError{OrderID: order.ID, From: order.Status, To: to, Field: field}
	}

	if p.Rate != nil && !p.Rate.Equal(order.Rate) {
		return nil, invalid(order.Status, "rate")
	}
	if p.FiatAmount != nil && !p.FiatAmount.Equal(order.FiatAmount) {
		return nil, invalid(order.Status, "fiat_amount")
	}
	if p.Fees != nil && !p.Fees.Equal(order.Fees) {
		return nil, invalid(order.Status, "fees")
	}
	if order.Status.IsTerminal() {
		to := order.Status
		if p.Status != nil {
			to = *p.Status
		}
		return nil, invalid(to, "")
	}

	next := order.Clone()

	if p.BankDetails != nil {
		if !order.Status.IsPreProcessing() {
			return nil, invalid(order.Status, "bank_details")
		}
		bd := *p.BankDetails
		if next.BankDetails == nil || *next.BankDetails != bd {
			// A signature binds the account it was made for.
			next.Signature = ""
			next.SourceAddress = ""
		}
		next.BankDetails = &bd
	}
	if p.Signature != nil {
		if !order.Status.IsPreProcessing() || next.BankDetails == nil {
			return nil, invalid(order.Status, "signature")
		}
		next.Signature = *p.Signature
	}
	if p.SourceAddress != nil {
		next.SourceAddress = *p.SourceAddress
	}
	if p.SettlementAddress != nil {
		if !order.Status.IsPreProcessing() {
			return nil, invalid(order.Status, "settlement_address")
		}
		next.SettlementAddress = *p.SettlementAddress
	}
	if p.Memo != nil {
		if !order.Status.IsPreProcessing() {
			return nil, invalid(order.Status, "memo")
		}
		next.Memo = *p.Memo
	}
	if p.TxRef != nil {
		// The reference is set once, on the hand-off to settlement.
		if order.Status != domain.StatusPendingSignature || p.Status == nil || *p.Status != domain.StatusProcessing {
			return nil, invalid(order.Status, "tx_ref")
		}
		next.TxRef = *p.TxRef
	}
	if p.FailureReason != nil {
		next.FailureReason = *p.FailureReason
	}

	if p.Status != nil && *p.Status != order.Status {
		to := *p.Status
		if !domain.CanTransition(order.Status, to) {
			return nil, invalid(to, "")
		}
		if to == domain.StatusPendingSignature && next.BankDetails == nil {
			return nil, invalid(to, "")
		}
		if to == domain.StatusProcessing && (next.BankDetails == nil || next.Signature == "" || next.TxRef == "") {
			return nil, invalid(to, "")
		}
		next.Status = to
	}
	return next, nil
}

func (s *OrderStore) reject(order *domain.OfframpOrder, err error) error {
	var ite *domain.InvalidTransitionError
	if errors.As(err, &ite) {
		s.metrics.RecordInvalidTransition()
		s.logger.Error("Invalid order transition rejected",
			slog.String("order_id", order.ID),
			slog.String("from", string(ite.From)),
			slog.String("to", string(ite.To)),
			slog.String("field", ite.Field),
		)
	}
	return err
}

// Expire marks a pre-processing order expired. Already expired orders are returned as is.
func (s *OrderStore) Expire(ctx context.Context, id string) (*domain.OfframpOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.StatusExpired {
		return order, nil
	}
	return s.commit(ctx, order, domain.OrderPatch{Status: domain.StatusPtr(domain.StatusExpired)})
}

// ExpireStale expires every pre-processing order whose lock has passed.
func (s *OrderStore) ExpireStale(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListOrdersByStatus(ctx, domain.StatusPendingBankDetails, domain.StatusPendingSignature)
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}

	now := s.clock.Now()
	expired := 0
	var errs []error
	for _, o := range candidates {
		if !o.LockExpired(now) {
			continue
		}
		if _, err := s.Expire(ctx, o.ID); err != nil {
			// Another path may have advanced it meanwhile.
			var ite *domain.InvalidTransitionError
			if !errors.As(err, &ite) {
				errs = append(errs, err)
			}
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}

// RefreshLock expires the old order and creates a new one from a fresh rate capture.
func (s *OrderStore) RefreshLock(ctx context.Context, id string, seed domain.OrderSeed) (*domain.OfframpOrder, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !old.Status.IsPreProcessing() && old.Status != domain.StatusExpired {
		return nil, s.reject(old, &domain.InvalidTransitionError{OrderID: id, From: old.Status, To: domain.StatusExpired})
	}
	if seed.AssetID != old.AssetID {
		return nil, fmt.Errorf("refresh must keep asset %s", old.AssetID)
	}
	if _, err := s.Expire(ctx, id); err != nil {
		return nil, err
	}
	return s.Create(ctx, seed)
}

// MarkProcessing records the broadcast reference and hands the order to settlement.
// The payment is already on chain, so a lock that lapsed during broadcast does not block it.
func (s *OrderStore) MarkProcessing(ctx context.Context, id, txRef string) (*domain.OfframpOrder, error) {
	return s.update(ctx, id, domain.OrderPatch{
		Status: domain.StatusPtr(domain.StatusProcessing),
		TxRef:  domain.StringPtr(txRef),
	}, false)
}

// Complete moves a processing order to completed.
func (s *OrderStore) Complete(ctx context.Context, id string) (*domain.OfframpOrder, error) {
	return s.Update(ctx, id, domain.OrderPatch{Status: domain.StatusPtr(domain.StatusCompleted)})
}

// Fail moves an order to failed with a reason.
func (s *OrderStore) Fail(ctx context.Context, id, reason string) (*domain.OfframpOrder, error) {
	return s.Update(ctx, id, domain.OrderPatch{
		Status:        domain.StatusPtr(domain.StatusFailed),
		FailureReason: domain.StringPtr(reason),
	})
}

func (s *OrderStore) emit(typ string, order *domain.OfframpOrder) {
	s.events.Emit(domain.OrderEvent{
		Type:    typ,
		OrderID: order.ID,
		Status:  order.Status,
		Order:   order.Clone(),
		At:      s.clock.Now(),
	})
}
