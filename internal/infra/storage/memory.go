package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"offramp_go/internal/domain"
)

// Memory is a process-local store. Values are cloned in and out.
type Memory struct {
	mu       sync.RWMutex
	orders   map[string]*domain.OfframpOrder
	latestID string
	lock     *domain.RateLock
	accounts []domain.SavedAccount
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{orders: make(map[string]*domain.OfframpOrder)}
}

func (m *Memory) CreateOrder(_ context.Context, order *domain.OfframpOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return ErrDuplicateOrder
	}
	m.orders[order.ID] = order.Clone()
	m.latestID = order.ID
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*domain.OfframpOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[id].Clone(), nil
}

func (m *Memory) SaveOrder(_ context.Context, order *domain.OfframpOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *Memory) LatestOrder(_ context.Context) (*domain.OfframpOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latestID == "" {
		return nil, nil
	}
	return m.orders[m.latestID].Clone(), nil
}

func (m *Memory) ListOrdersByStatus(_ context.Context, statuses ...domain.OrderStatus) ([]*domain.OfframpOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.OfframpOrder
	for _, o := range m.orders {
		if statusIn(o.Status, statuses) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveLock(_ context.Context, lock domain.RateLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lock = &lock
	return nil
}

func (m *Memory) LoadLock(_ context.Context) (*domain.RateLock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lock == nil {
		return nil, nil
	}
	l := *m.lock
	return &l, nil
}

func (m *Memory) SaveAccounts(_ context.Context, accounts []domain.SavedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = slices.Clone(accounts)
	return nil
}

func (m *Memory) LoadAccounts(_ context.Context) ([]domain.SavedAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.accounts), nil
}

func (m *Memory) Close() error { return nil }
