package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the escrow module.
type Metrics struct {
	EscrowsOpened   prometheus.Counter
	EscrowsFinished *prometheus.CounterVec
	Deposits        prometheus.Counter
	SweepBatchSize  prometheus.Histogram
}

// New creates a Metrics instance with all escrow module metrics registered.
func New() *Metrics {
	return &Metrics{
		EscrowsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brickledger_escrows_opened_total",
			Help: "Total number of escrow accounts opened",
		}),
		EscrowsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickledger_escrows_finished_total",
			Help: "Total number of escrows settled by outcome",
		}, []string{"outcome"}),
		Deposits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brickledger_escrow_deposits_total",
			Help: "Total number of committed escrow deposits",
		}),
		SweepBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "brickledger_escrow_sweep_batch_size",
			Help:    "Number of expired escrows settled per sweep",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

// IncrementEscrowsOpened records a successful escrow open.
func (m *Metrics) IncrementEscrowsOpened() {
	m.EscrowsOpened.Inc()
}

// IncrementEscrowsFinished records an escrow reaching a terminal state.
func (m *Metrics) IncrementEscrowsFinished(outcome string) {
	m.EscrowsFinished.WithLabelValues(outcome).Inc()
}

// IncrementDeposits records a committed deposit.
func (m *Metrics) IncrementDeposits() {
	m.Deposits.Inc()
}

// ObserveSweepBatch records the size of one expiry sweep.
func (m *Metrics) ObserveSweepBatch(n int) {
	m.SweepBatchSize.Observe(float64(n))
}
