package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
)

func newTestSubmitter(h *harness, b *fakeBroadcaster) (*Submitter, *fakeBuilder) {
	builder := &fakeBuilder{chain: domain.ChainPolygon}
	s := NewSubmitter(h.orders, b, h.clk, builder)
	s.metrics = &infra.Metrics{}
	return s, builder
}

func TestSubmitter_SignAndSubmit(t *testing.T) {
	h := newHarness(t)
	b := &fakeBroadcaster{ref: "0xfeed"}
	s, builder := newTestSubmitter(h, b)
	o := h.signed(t)
	w := newFakeWallet()

	got, err := s.SignAndSubmit(context.Background(), o.ID, w)
	if err != nil {
		t.Fatalf("SignAndSubmit failed: %v", err)
	}
	if got.Status != domain.StatusProcessing || got.TxRef != "0xfeed" {
		t.Errorf("status %s ref %q", got.Status, got.TxRef)
	}
	if b.calls != 1 {
		t.Errorf("broadcasts = %d, want 1", b.calls)
	}

	req := builder.requests[0]
	if !req.Amount.Equal(o.Amount) || req.Destination != o.SettlementAddress || req.Asset.ID != o.AssetID {
		t.Errorf("payment not built from locked fields: %+v", req)
	}
	if req.Source != o.SourceAddress || req.Memo != o.Memo {
		t.Errorf("unexpected source/memo %q %q", req.Source, req.Memo)
	}
}

func TestSubmitter_FailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	b := &fakeBroadcaster{err: errors.New("nonce too low")}
	s, _ := newTestSubmitter(h, b)
	o := h.signed(t)

	_, err := s.SignAndSubmit(context.Background(), o.ID, newFakeWallet())
	var se *domain.SubmissionError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if domain.IsRetriable(err) {
		t.Error("submission errors must not be retriable")
	}
	if b.calls != 1 {
		t.Errorf("broadcasts = %d, want exactly 1", b.calls)
	}
	if got := s.metrics.Snapshot().SubmissionFailures; got != 1 {
		t.Errorf("submission failures metric = %d, want 1", got)
	}

	stored, _ := h.orders.Get(context.Background(), o.ID)
	if stored.Status != domain.StatusPendingSignature || stored.TxRef != "" {
		t.Errorf("failed submit changed order: %s %q", stored.Status, stored.TxRef)
	}

	// An explicit user retry goes through.
	b.err = nil
	b.ref = "0xbeef"
	if _, err := s.SignAndSubmit(context.Background(), o.ID, newFakeWallet()); err != nil {
		t.Errorf("user retry failed: %v", err)
	}
}

func TestSubmitter_SigningCancelled(t *testing.T) {
	h := newHarness(t)
	b := &fakeBroadcaster{ref: "0xfeed"}
	s, _ := newTestSubmitter(h, b)
	o := h.signed(t)

	w := newFakeWallet()
	w.err = domain.ErrSigningCancelled
	_, err := s.SignAndSubmit(context.Background(), o.ID, w)
	if !errors.Is(err, domain.ErrSigningCancelled) {
		t.Fatalf("expected ErrSigningCancelled in chain, got %v", err)
	}
	if b.calls != 0 {
		t.Error("cancelled signature was broadcast")
	}
}

func TestSubmitter_WalletFailure(t *testing.T) {
	h := newHarness(t)
	b := &fakeBroadcaster{ref: "0xfeed"}
	s, _ := newTestSubmitter(h, b)
	o := h.signed(t)

	w := newFakeWallet()
	w.err = errors.New("device error")
	_, err := s.SignAndSubmit(context.Background(), o.ID, w)
	if !errors.Is(err, domain.ErrSigningFailed) {
		t.Fatalf("expected ErrSigningFailed in chain, got %v", err)
	}
	if b.calls != 0 {
		t.Error("unsigned payment was broadcast")
	}
}

func TestSubmitter_UnsupportedAsset(t *testing.T) {
	h := newHarness(t)
	s, _ := newTestSubmitter(h, &fakeBroadcaster{})
	ctx := context.Background()

	seed := h.seed()
	seed.AssetID, seed.Asset, seed.Chain = "xlm-stellar", "XLM", domain.ChainStellar
	o, err := h.orders.Create(ctx, seed)
	if err != nil {
		t.Fatal(err)
	}
	bd := testBank
	if _, err := h.orders.Update(ctx, o.ID, domain.OrderPatch{BankDetails: &bd, Status: domain.StatusPtr(domain.StatusPendingSignature)}); err != nil {
		t.Fatal(err)
	}
	o, err = h.orders.Update(ctx, o.ID, domain.OrderPatch{Signature: domain.StringPtr("sig")})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.BuildPayment(ctx, o)
	var ua *domain.UnsupportedAssetError
	if !errors.As(err, &ua) || ua.Chain != domain.ChainStellar {
		t.Errorf("expected UnsupportedAssetError for Stellar, got %v", err)
	}
}

func TestSubmitter_Gates(t *testing.T) {
	h := newHarness(t)
	b := &fakeBroadcaster{ref: "0xfeed"}
	s, _ := newTestSubmitter(h, b)
	ctx := context.Background()

	unsigned := h.create(t)
	if _, err := s.SignAndSubmit(ctx, unsigned.ID, newFakeWallet()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}

	o := h.signed(t)
	h.clk.Advance(15*time.Minute + time.Second)
	if _, err := s.SignAndSubmit(ctx, o.ID, newFakeWallet()); !errors.Is(err, domain.ErrOrderExpired) {
		t.Errorf("expected ErrOrderExpired, got %v", err)
	}
	if b.calls != 0 {
		t.Errorf("broadcasts = %d, want 0", b.calls)
	}
}

// gatedBroadcaster holds every broadcast until release is closed.
type gatedBroadcaster struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *gatedBroadcaster) Broadcast(ctx context.Context, tx domain.SignedTx) (string, error) {
	n := b.calls.Add(1)
	if n == 1 {
		close(b.started)
	}
	<-b.release
	return fmt.Sprintf("0xref%d", n), nil
}

func TestSubmitter_BroadcastsOnce(t *testing.T) {
	h := newHarness(t)
	b := &gatedBroadcaster{started: make(chan struct{}), release: make(chan struct{})}
	s := NewSubmitter(h.orders, b, h.clk, &fakeBuilder{chain: domain.ChainPolygon})
	s.metrics = &infra.Metrics{}
	ctx := context.Background()
	o := h.signed(t)
	tx := domain.SignedTx{Chain: domain.ChainPolygon, Encoded: "signed:a"}

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, o.ID, tx)
		first <- err
	}()
	<-b.started

	var se *domain.SubmissionError
	if _, err := s.Submit(ctx, o.ID, tx); !errors.As(err, &se) {
		t.Fatalf("concurrent submit should be refused, got %v", err)
	}

	close(b.release)
	if err := <-first; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	// A caller whose view predates the first submit must not resend.
	retry := domain.SignedTx{Chain: domain.ChainPolygon, Encoded: "signed:b"}
	if _, err := s.Submit(ctx, o.ID, retry); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("submit after processing should be ErrNotReady, got %v", err)
	}
	if got := b.calls.Load(); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}

	stored, err := h.orders.Get(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusProcessing || stored.TxRef != "0xref1" {
		t.Errorf("order = %s %q, want processing 0xref1", stored.Status, stored.TxRef)
	}
}
