package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "brickledger/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal" {
			t.Fatalf("expected error code internal, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("quorum failure includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeQuorumNotMet, "release requires 2 of 3 signatories"))

		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "quorum_not_met" {
			t.Fatalf("expected error code quorum_not_met, got %q", body["error"])
		}
		if body["error_description"] != "release requires 2 of 3 signatories" {
			t.Fatalf("unexpected error_description %q", body["error_description"])
		}
	})
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		code   dErrors.Code
		status int
	}{
		{dErrors.CodeValidation, http.StatusBadRequest},
		{dErrors.CodeNotFound, http.StatusNotFound},
		{dErrors.CodeConflict, http.StatusConflict},
		{dErrors.CodeAlreadyFinalized, http.StatusConflict},
		{dErrors.CodeProposalExpired, http.StatusGone},
		{dErrors.CodeLedgerRejected, http.StatusUnprocessableEntity},
		{dErrors.CodeLedgerUnavailable, http.StatusServiceUnavailable},
		{dErrors.CodeUnauthorized, http.StatusUnauthorized},
		{dErrors.Code("unknown"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.code); got != tt.status {
			t.Errorf("StatusOf(%s) = %d, want %d", tt.code, got, tt.status)
		}
	}
}
