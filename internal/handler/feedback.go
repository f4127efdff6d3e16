package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// IssueFeedbackCoupon handles POST /api/feedback/coupons. Repeating the call
// for an order returns the coupon issued first.
func (h *Handler) IssueFeedbackCoupon(w http.ResponseWriter, r *http.Request) {
	body, err := decodeFeedbackBody(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.feedback.Issue(r.Context(), body.OrderID, body.Email, body.Rating)
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeCoupon(&e, c)
	writeJSON(w, http.StatusOK, &e)
}
