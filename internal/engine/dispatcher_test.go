package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"offramp_go/internal/domain"
	"offramp_go/internal/infra"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, ev domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) seqs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Seq)
	}
	return out
}

func event(id string, status domain.OrderStatus) domain.OrderEvent {
	return domain.OrderEvent{Type: domain.EventOrderUpdated, OrderID: id, Status: status, At: time.Now()}
}

func recv(t *testing.T, sub *Subscription) domain.OrderEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.OrderEvent{}
}

func TestDispatcher_SequencesAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(10, pub)
	d.metrics = &infra.Metrics{}
	ctx, cancel := context.WithCancel(context.Background())

	all := d.Subscribe("")
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.Emit(event("a", domain.StatusPendingBankDetails))
	d.Emit(event("b", domain.StatusPendingBankDetails))
	d.Emit(event("a", domain.StatusPendingSignature))

	for want := uint64(1); want <= 3; want++ {
		if ev := recv(t, all); ev.Seq != want {
			t.Errorf("seq = %d, want %d", ev.Seq, want)
		}
	}

	cancel()
	<-done

	got := pub.seqs()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("published seqs = %v, want [1 2 3]", got)
	}
	if n := d.metrics.Snapshot().EventsPublished; n != 3 {
		t.Errorf("events published metric = %d, want 3", n)
	}
	if _, ok := <-all.C; ok {
		t.Error("subscription not closed on stop")
	}
}

func TestDispatcher_FiltersByOrder(t *testing.T) {
	d := NewDispatcher(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	sub := d.Subscribe("a")
	d.Emit(event("b", domain.StatusPendingBankDetails))
	d.Emit(event("a", domain.StatusExpired))

	ev := recv(t, sub)
	if ev.OrderID != "a" || ev.Status != domain.StatusExpired {
		t.Errorf("got %s/%s, want a/expired", ev.OrderID, ev.Status)
	}

	// A late subscriber gets the latest event first.
	late := d.Subscribe("a")
	if ev := recv(t, late); ev.Status != domain.StatusExpired {
		t.Errorf("late subscriber got %s", ev.Status)
	}

	d.Unsubscribe(sub)
	if _, ok := <-sub.C; ok {
		t.Error("channel open after Unsubscribe")
	}
}

func TestDispatcher_PublishFailureStillFansOut(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	d := NewDispatcher(10, pub)
	d.metrics = &infra.Metrics{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	sub := d.Subscribe("a")
	d.Emit(event("a", domain.StatusProcessing))
	if ev := recv(t, sub); ev.Seq != 1 {
		t.Errorf("seq = %d, want 1", ev.Seq)
	}
	if n := d.metrics.Snapshot().EventsPublished; n != 0 {
		t.Errorf("events published = %d, want 0", n)
	}
}

func TestDispatcher_EmitAfterStop(t *testing.T) {
	d := NewDispatcher(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	returned := make(chan struct{})
	go func() {
		d.Emit(event("a", domain.StatusFailed))
		d.Emit(event("a", domain.StatusFailed))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked after stop")
	}

	if _, ok := <-d.Subscribe("a").C; ok {
		t.Error("subscription after stop should be closed")
	}
}
