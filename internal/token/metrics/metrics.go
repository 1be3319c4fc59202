package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the token module.
type Metrics struct {
	TokensCreated       prometheus.Counter
	SupplyChanges       *prometheus.CounterVec
	FreezeAttempts      *prometheus.CounterVec
	CreateTokenDuration prometheus.Histogram
}

// New creates a Metrics instance with all token module metrics registered.
func New() *Metrics {
	return &Metrics{
		TokensCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brickledger_tokens_created_total",
			Help: "Total number of token records created",
		}),
		SupplyChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickledger_token_supply_changes_total",
			Help: "Total number of committed supply changes by direction",
		}, []string{"direction"}),
		FreezeAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickledger_token_freeze_attempts_total",
			Help: "Total number of freeze/unfreeze attempts by outcome",
		}, []string{"action", "outcome"}),
		CreateTokenDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "brickledger_create_token_duration_seconds",
			Help:    "Duration of CreateToken operations including the ledger round trip",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// IncrementTokensCreated records a successful token creation.
func (m *Metrics) IncrementTokensCreated() {
	m.TokensCreated.Inc()
}

// IncrementSupplyChange records a committed mint or burn.
func (m *Metrics) IncrementSupplyChange(direction string) {
	m.SupplyChanges.WithLabelValues(direction).Inc()
}

// IncrementFreezeAttempt records one freeze or unfreeze attempt.
func (m *Metrics) IncrementFreezeAttempt(action, outcome string) {
	m.FreezeAttempts.WithLabelValues(action, outcome).Inc()
}

// ObserveCreateToken records the duration of a CreateToken operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCreateToken(start time.Time) {
	m.CreateTokenDuration.Observe(time.Since(start).Seconds())
}
