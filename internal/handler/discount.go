package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// Validate handles POST /api/discounts/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	body, err := decodePromoBody(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	d, err := h.promos.Validate(r.Context(), body.request())
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeDecision(&e, d)
	writeJSON(w, http.StatusOK, &e)
}

// ValidateAll handles POST /api/discounts/validate-all.
func (h *Handler) ValidateAll(w http.ResponseWriter, r *http.Request) {
	body, err := decodePromoBody(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	sel, err := h.promos.ValidateAll(r.Context(), body.Codes, body.request())
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeSelection(&e, sel)
	writeJSON(w, http.StatusOK, &e)
}

// Redeem handles POST /api/discounts/redeem. A rejected redemption is a
// 200 with valid=false; only faults produce error statuses.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	body, err := decodePromoBody(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	red, err := h.promos.Redeem(r.Context(), body.request(), body.OrderID)
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeRedemption(&e, red)
	writeJSON(w, http.StatusOK, &e)
}

// UsageStats handles GET /api/admin/discounts/{code}/usage.
func (h *Handler) UsageStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.promos.UsageStats(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeUsageStats(&e, st)
	writeJSON(w, http.StatusOK, &e)
}
