package api

import (
	"context"
	"net/http"
	"strings"
)

// LedgerDependencies defines the interface for ledger reads.
type LedgerDependencies interface {
	Lookup(ctx context.Context, identity string) (LedgerEntry, error)
}

// LedgerHandler handles ledger requests.
type LedgerHandler struct {
	deps LedgerDependencies
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(deps LedgerDependencies) *LedgerHandler {
	return &LedgerHandler{deps: deps}
}

// HandleGetLedger handles GET /ledger/{identity} requests.
func (h *LedgerHandler) HandleGetLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	identity := strings.TrimPrefix(r.URL.Path, "/ledger/")
	if strings.TrimSpace(identity) == "" || strings.Contains(identity, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	entry, err := h.deps.Lookup(r.Context(), identity)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
