package infra

import (
	"sync/atomic"
	"time"

	"offramp_go/internal/domain"
)

// Metrics counts lifecycle outcomes with atomic operations.
type Metrics struct {
	ordersCreated    atomic.Uint64
	ordersProcessing atomic.Uint64
	ordersCompleted  atomic.Uint64
	ordersFailed     atomic.Uint64
	ordersExpired    atomic.Uint64

	rateFetchFailures    atomic.Uint64
	verificationFailures atomic.Uint64
	signingCancelled     atomic.Uint64
	submissionFailures   atomic.Uint64
	invalidTransitions   atomic.Uint64
	eventsPublished      atomic.Uint64

	// Gauges
	activeStreams atomic.Int32
	activeWatches atomic.Int32
}

// GlobalMetrics is the process-wide instance.
var GlobalMetrics = &Metrics{}

// RecordStatus counts an order entering status.
func (m *Metrics) RecordStatus(s domain.OrderStatus) {
	switch s {
	case domain.StatusProcessing:
		m.ordersProcessing.Add(1)
	case domain.StatusCompleted:
		m.ordersCompleted.Add(1)
	case domain.StatusFailed:
		m.ordersFailed.Add(1)
	case domain.StatusExpired:
		m.ordersExpired.Add(1)
	}
}

func (m *Metrics) RecordOrderCreated()        { m.ordersCreated.Add(1) }
func (m *Metrics) RecordRateFetchFailure()    { m.rateFetchFailures.Add(1) }
func (m *Metrics) RecordVerificationFailure() { m.verificationFailures.Add(1) }
func (m *Metrics) RecordSigningCancelled()    { m.signingCancelled.Add(1) }
func (m *Metrics) RecordSubmissionFailure()   { m.submissionFailures.Add(1) }
func (m *Metrics) RecordInvalidTransition()   { m.invalidTransitions.Add(1) }
func (m *Metrics) RecordEventPublished()      { m.eventsPublished.Add(1) }

// IncrementStreams and DecrementStreams track open websocket streams.
func (m *Metrics) IncrementStreams() { m.activeStreams.Add(1) }
func (m *Metrics) DecrementStreams() { m.activeStreams.Add(-1) }

// IncrementWatches and DecrementWatches track running status watches.
func (m *Metrics) IncrementWatches() { m.activeWatches.Add(1) }
func (m *Metrics) DecrementWatches() { m.activeWatches.Add(-1) }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersCreated        uint64    `json:"orders_created"`
	OrdersProcessing     uint64    `json:"orders_processing"`
	OrdersCompleted      uint64    `json:"orders_completed"`
	OrdersFailed         uint64    `json:"orders_failed"`
	OrdersExpired        uint64    `json:"orders_expired"`
	RateFetchFailures    uint64    `json:"rate_fetch_failures"`
	VerificationFailures uint64    `json:"verification_failures"`
	SigningCancelled     uint64    `json:"signing_cancelled"`
	SubmissionFailures   uint64    `json:"submission_failures"`
	InvalidTransitions   uint64    `json:"invalid_transitions"`
	EventsPublished      uint64    `json:"events_published"`
	ActiveStreams        int32     `json:"active_streams"`
	ActiveWatches        int32     `json:"active_watches"`
	Timestamp            time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		OrdersCreated:        m.ordersCreated.Load(),
		OrdersProcessing:     m.ordersProcessing.Load(),
		OrdersCompleted:      m.ordersCompleted.Load(),
		OrdersFailed:         m.ordersFailed.Load(),
		OrdersExpired:        m.ordersExpired.Load(),
		RateFetchFailures:    m.rateFetchFailures.Load(),
		VerificationFailures: m.verificationFailures.Load(),
		SigningCancelled:     m.signingCancelled.Load(),
		SubmissionFailures:   m.submissionFailures.Load(),
		InvalidTransitions:   m.invalidTransitions.Load(),
		EventsPublished:      m.eventsPublished.Load(),
		ActiveStreams:        m.activeStreams.Load(),
		ActiveWatches:        m.activeWatches.Load(),
		Timestamp:            time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.ordersCreated, &m.ordersProcessing, &m.ordersCompleted, &m.ordersFailed, &m.ordersExpired,
		&m.rateFetchFailures, &m.verificationFailures, &m.signingCancelled, &m.submissionFailures,
		&m.invalidTransitions, &m.eventsPublished,
	} {
		c.Store(0)
	}
	m.activeStreams.Store(0)
	m.activeWatches.Store(0)
}
