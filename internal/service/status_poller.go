package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
)

// StatusPoller follows processing orders until the settlement source resolves them.
type StatusPoller struct {
	orders   *OrderStore
	repo     domain.OrderRepository
	source   domain.StatusSource
	interval time.Duration
	metrics  *infra.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	watches map[string]context.CancelFunc
	root    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewStatusPoller(orders *OrderStore, repo domain.OrderRepository, source domain.StatusSource, interval time.Duration) *StatusPoller {
	if interval <= 0 {
		interval = infra.DefaultStatusPoll
	}
	root, cancel := context.WithCancel(context.Background())
	return &StatusPoller{
		orders:   orders,
		repo:     repo,
		source:   source,
		interval: interval,
		metrics:  infra.GlobalMetrics,
		logger:   slog.Default().With(slog.String("module", "status_poller")),
		watches:  make(map[string]context.CancelFunc),
		root:     root,
		cancel:   cancel,
	}
}

// Resume starts a watch for every order already in processing.
func (p *StatusPoller) Resume(ctx context.Context) error {
	processing, err := p.repo.ListOrdersByStatus(ctx, domain.StatusProcessing)
	if err != nil {
		return err
	}
	for _, o := range processing {
		p.Watch(ctx, o.ID)
	}
	if len(processing) > 0 {
		p.logger.Info("Resumed settlement watches", slog.Int("count", len(processing)))
	}
	return nil
}

// Watch polls orderID until it completes or fails, or until ctx or Stop ends it.
// Watching an order twice is a no-op.
func (p *StatusPoller) Watch(ctx context.Context, orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.root.Err() != nil {
		return
	}
	if _, ok := p.watches[orderID]; ok {
		return
	}

	wctx, cancel := context.WithCancel(p.root)
	stop := context.AfterFunc(ctx, cancel)
	p.watches[orderID] = cancel
	p.metrics.IncrementWatches()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer stop()
		defer p.release(orderID)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Status watch panic recovered", slog.String("order_id", orderID), slog.Any("panic", r))
			}
		}()
		p.run(wctx, orderID)
	}()
}

func (p *StatusPoller) release(orderID string) {
	p.mu.Lock()
	if cancel, ok := p.watches[orderID]; ok {
		cancel()
		delete(p.watches, orderID)
		p.metrics.DecrementWatches()
	}
	p.mu.Unlock()
}

func (p *StatusPoller) run(ctx context.Context, orderID string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if done := p.poll(ctx, orderID); done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll checks once and reports whether the watch is finished.
func (p *StatusPoller) poll(ctx context.Context, orderID string) bool {
	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return true
		}
		p.logger.Warn("Status poll could not load order", slog.String("order_id", orderID), slog.Any("error", err))
		return false
	}
	if order.Status != domain.StatusProcessing {
		return true
	}

	state, err := p.source.SettlementStatus(ctx, order)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Settlement status check failed", slog.String("order_id", orderID), slog.Any("error", err))
		}
		return false
	}

	switch state {
	case domain.SettlementCompleted:
		_, err = p.orders.Complete(ctx, orderID)
	case domain.SettlementFailed:
		_, err = p.orders.Fail(ctx, orderID, "settlement reported failure")
	default:
		return false
	}
	if err != nil {
		p.logger.Error("Failed to record settlement result", slog.String("order_id", orderID), slog.Any("error", err))
		return false
	}
	return true
}

// Watching reports whether orderID has an active watch.
func (p *StatusPoller) Watching(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watches[orderID]
	return ok
}

// Stop cancels every watch and waits for them to exit.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("Status poller stopped")
}
