package httptransport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
	"brickledger/pkg/platform/httputil"
)

const (
	defaultEventPageSize = 100
	maxEventPageSize     = 1000
)

// HandleGetToken handles GET /v1/tokens/{tokenID}.
func (h *Handler) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := h.tokens.GetToken(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromToken(token))
}

// HandleListTokens handles GET /v1/tokens.
func (h *Handler) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokens.ListTokens(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]TokenResponse, len(tokens))
	for i, t := range tokens {
		out[i] = fromToken(t)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleGetProposal handles GET /v1/proposals/{proposalID}.
func (h *Handler) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, err := id.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	proposal, err := h.governance.GetProposal(r.Context(), proposalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProposal(proposal))
}

// HandleListProposals handles GET /v1/tokens/{tokenID}/proposals, returning
// the token's pending proposals.
func (h *Handler) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	proposals, err := h.governance.ListPendingForToken(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProposals(proposals))
}

// HandleGetEscrow handles GET /v1/escrows/{escrowID}.
func (h *Handler) HandleGetEscrow(w http.ResponseWriter, r *http.Request) {
	escrowID, err := id.ParseEscrowID(chi.URLParam(r, "escrowID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	escrow, err := h.escrows.GetEscrow(r.Context(), escrowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromEscrow(escrow))
}

// HandleAuditEvents handles GET /v1/audit/{topicID}/events?after=N&limit=N.
// It serves the locally persisted copy; the consensus topic remains the
// authoritative record.
func (h *Handler) HandleAuditEvents(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")
	if id.LedgerTopicID(topicID) != h.auditTrail.Topic() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown audit topic"))
		return
	}

	after, err := queryUint(r, "after", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := queryUint(r, "limit", defaultEventPageSize)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}

	events, err := h.auditTrail.Events(r.Context(), after, int(limit))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromAuditEvents(events))
}

func queryUint(r *http.Request, name string, fallback uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.Newf(dErrors.CodeValidation, "%s must be a non-negative integer", name)
	}
	return v, nil
}
