package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
	"offramp_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeRateSource struct {
	mu    sync.Mutex
	rate  decimal.Decimal
	ts    time.Time
	err   error
	calls int
}

func (f *fakeRateSource) FetchRate(_ context.Context, asset, fiat string) (domain.Rate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Rate{}, f.err
	}
	return domain.Rate{Asset: asset, Fiat: fiat, Value: f.rate, Timestamp: f.ts}, nil
}

func (f *fakeRateSource) set(rate decimal.Decimal, err error) {
	f.mu.Lock()
	f.rate, f.err = rate, err
	f.mu.Unlock()
}

func (f *fakeRateSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingResolver struct{ calls int }

func (r *failingResolver) ResolveAccount(context.Context, string, string) (string, error) {
	r.calls++
	return "", errors.New("resolver unavailable")
}

type fakeWallet struct {
	connected bool
	address   string
	err       error
	messages  []string
	signedTxs []domain.UnsignedTx
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{connected: true, address: "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"}
}

func (w *fakeWallet) Connect(context.Context) error {
	w.connected = true
	return nil
}

func (w *fakeWallet) IsConnected() bool { return w.connected }
func (w *fakeWallet) PublicKey() string { return w.address }

func (w *fakeWallet) SignMessage(_ context.Context, message, _ string) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.messages = append(w.messages, message)
	return fmt.Sprintf("0xsig%d", len(w.messages)), nil
}

func (w *fakeWallet) SignTransaction(_ context.Context, tx domain.UnsignedTx) (domain.SignedTx, error) {
	if w.err != nil {
		return domain.SignedTx{}, w.err
	}
	w.signedTxs = append(w.signedTxs, tx)
	return domain.SignedTx{Chain: tx.Chain, Encoded: "signed:" + tx.Encoded}, nil
}

type fakeBuilder struct {
	chain    string
	requests []domain.PaymentRequest
}

func (b *fakeBuilder) Supports(a domain.AssetOption) bool { return a.Chain == b.chain }

func (b *fakeBuilder) BuildPayment(_ context.Context, req domain.PaymentRequest) (domain.UnsignedTx, error) {
	b.requests = append(b.requests, req)
	return domain.UnsignedTx{Chain: req.Asset.Chain, Encoded: "0xunsigned"}, nil
}

type fakeBroadcaster struct {
	ref   string
	err   error
	calls int
}

func (b *fakeBroadcaster) Broadcast(context.Context, domain.SignedTx) (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return b.ref, nil
}

type scriptedStatus struct {
	mu     sync.Mutex
	states []domain.SettlementState
	calls  int
}

func (s *scriptedStatus) SettlementStatus(context.Context, *domain.OfframpOrder) (domain.SettlementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.states) {
		return s.states[len(s.states)-1], nil
	}
	return s.states[i], nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (r *recordingSink) Emit(ev domain.OrderEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type+":"+string(ev.Status))
	}
	return out
}

type harness struct {
	clk     *clock.Manual
	repo    *storage.Memory
	metrics *infra.Metrics
	sink    *recordingSink
	orders  *OrderStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:     clock.NewManual(t0),
		repo:    storage.NewMemory(),
		metrics: &infra.Metrics{},
		sink:    &recordingSink{},
	}
	h.orders = NewOrderStore(h.repo, h.clk, WithEventSink(h.sink), WithOrderMetrics(h.metrics))
	return h
}

// seed returns the 50,000 NGN at 1584 order seed on USDC Polygon.
func (h *harness) seed() domain.OrderSeed {
	now := h.clk.Now()
	return domain.OrderSeed{
		AssetID:      "usdc-polygon",
		Asset:        "USDC",
		Chain:        domain.ChainPolygon,
		Amount:       dec("31.565656"),
		FiatCurrency: "NGN",
		Rate:         dec("1584"),
		FiatAmount:   dec("50000"),
		Fees: domain.FeeBreakdown{
			OfframpFee:    dec("815"),
			NetworkFee:    dec("150"),
			BankFee:       decimal.Zero,
			Total:         dec("965"),
			ReceiveAmount: dec("49035"),
		},
		LockedAt:          now,
		LockExpiresAt:     now.Add(15 * time.Minute),
		SettlementAddress: "0x000000000000000000000000000000000000dEaD",
	}
}

func (h *harness) create(t *testing.T) *domain.OfframpOrder {
	t.Helper()
	o, err := h.orders.Create(context.Background(), h.seed())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return o
}

var testBank = domain.BankDetails{
	BankName:      "Access Bank",
	BankCode:      "044",
	AccountNumber: "0123456789",
	AccountName:   "CHUKWUEMEKA OKAFOR",
}

// signed creates an order that has passed the bank-details and signature gate.
func (h *harness) signed(t *testing.T) *domain.OfframpOrder {
	t.Helper()
	o := h.create(t)
	bd := testBank
	o, err := h.orders.Update(context.Background(), o.ID, domain.OrderPatch{
		BankDetails: &bd,
		Status:      domain.StatusPtr(domain.StatusPendingSignature),
	})
	if err != nil {
		t.Fatal(err)
	}
	o, err = h.orders.Update(context.Background(), o.ID, domain.OrderPatch{
		Signature:     domain.StringPtr("0xsig"),
		SourceAddress: domain.StringPtr("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}
