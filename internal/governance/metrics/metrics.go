package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the governance module.
type Metrics struct {
	ProposalsCreated  *prometheus.CounterVec
	ProposalsFinished *prometheus.CounterVec
	SignaturesTotal   prometheus.Counter
}

// New creates a Metrics instance with all governance module metrics registered.
func New() *Metrics {
	return &Metrics{
		ProposalsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickledger_proposals_created_total",
			Help: "Total number of governance proposals created by type",
		}, []string{"type"}),
		ProposalsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickledger_proposals_finished_total",
			Help: "Total number of proposals reaching a terminal state by outcome",
		}, []string{"outcome"}),
		SignaturesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brickledger_proposal_signatures_total",
			Help: "Total number of accepted proposal signatures",
		}),
	}
}

// IncrementProposalsCreated records a new proposal.
func (m *Metrics) IncrementProposalsCreated(proposalType string) {
	m.ProposalsCreated.WithLabelValues(proposalType).Inc()
}

// IncrementProposalsFinished records a proposal reaching a terminal state.
func (m *Metrics) IncrementProposalsFinished(outcome string) {
	m.ProposalsFinished.WithLabelValues(outcome).Inc()
}

// IncrementSignatures records an accepted signature.
func (m *Metrics) IncrementSignatures() {
	m.SignaturesTotal.Inc()
}
