package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// Draw handles POST /api/spin.
func (h *Handler) Draw(w http.ResponseWriter, r *http.Request) {
	body, err := decodeDrawBody(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.spins.Draw(r.Context(), body.Email)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadySpun || res.Terminal() {
		status = http.StatusOK
	}
	var e jx.Encoder
	encodeDrawResult(&e, res, true)
	writeJSON(w, status, &e)
}

// LookupSpin handles GET /api/spin/{code}.
func (h *Handler) LookupSpin(w http.ResponseWriter, r *http.Request) {
	res, err := h.spins.Lookup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeDrawResult(&e, res, false)
	writeJSON(w, http.StatusOK, &e)
}
