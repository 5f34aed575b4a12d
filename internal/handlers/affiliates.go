package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/blackboard-training/api/internal/platform/auth"
	"github.com/blackboard-training/api/internal/platform/httpx"
	"github.com/blackboard-training/api/internal/services"
)

// AffiliateHandlers exposes the referral commission ledger.
type AffiliateHandlers struct {
	affiliates *services.AffiliateService
	verifier   *auth.Verifier
}

// NewAffiliateHandlers constructs the affiliate handler group.
func NewAffiliateHandlers(affiliates *services.AffiliateService, verifier *auth.Verifier) *AffiliateHandlers {
	return &AffiliateHandlers{affiliates: affiliates, verifier: verifier}
}

// Routes registers affiliate endpoints under the provided router.
func (h *AffiliateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.verifier != nil {
		group = group.With(h.verifier.RequireAdmin())
	}
	group.Get("/affiliates/{affiliateID}/ledger", h.ledger)
}

type ledgerResponse struct {
	AffiliateID string                 `json:"affiliateId"`
	Entries     []services.LedgerEntry `json:"entries"`
	Total       int64                  `json:"total"`
}

func (h *AffiliateHandlers) ledger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	affiliateID := strings.TrimSpace(chi.URLParam(r, "affiliateID"))
	if affiliateID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "affiliate id is required", http.StatusBadRequest))
		return
	}

	entries := h.affiliates.Ledger(ctx, affiliateID)
	if entries == nil {
		entries = []services.LedgerEntry{}
	}
	var total int64
	for _, entry := range entries {
		total += entry.Commission
	}

	writeJSONResponse(w, http.StatusOK, ledgerResponse{
		AffiliateID: affiliateID,
		Entries:     entries,
		Total:       total,
	})
}
