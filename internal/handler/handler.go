// Package handler exposes the promo engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/feedback"
	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/domain/spin"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Promotions is the promo.Service surface used over HTTP.
type Promotions interface {
	Validate(ctx context.Context, req promo.Request) (promo.Decision, error)
	ValidateAll(ctx context.Context, codes []string, req promo.Request) (promo.Selection, error)
	Redeem(ctx context.Context, req promo.Request, orderID string) (promo.Redemption, error)
	UsageStats(ctx context.Context, code string) (*discount.UsageStats, error)
}

// Spins is the spin.Service surface used over HTTP.
type Spins interface {
	Draw(ctx context.Context, email string) (*spin.DrawResult, error)
	Lookup(ctx context.Context, code string) (*spin.DrawResult, error)
}

// Feedback is the feedback.Service surface used over HTTP.
type Feedback interface {
	Issue(ctx context.Context, orderID, email string, rating int) (*feedback.Coupon, error)
}

// Authenticator resolves a raw API key.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*auth.Key, error)
}

// Handler serves the /api routes.
type Handler struct {
	promos   Promotions
	spins    Spins
	feedback Feedback
	auth     Authenticator
}

// New creates a Handler.
func New(promos Promotions, spins Spins, fb Feedback, authn Authenticator) *Handler {
	return &Handler{
		promos:   promos,
		spins:    spins,
		feedback: fb,
		auth:     authn,
	}
}

// Mount registers the API under /api on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/discounts/validate", h.Validate)
		r.Post("/discounts/validate-all", h.ValidateAll)
		r.Post("/spin", h.Draw)
		r.Get("/spin/{code}", h.LookupSpin)

		r.With(h.RequireScope(auth.ScopeRedeem)).Post("/discounts/redeem", h.Redeem)
		r.With(h.RequireScope(auth.ScopeFeedback)).Post("/feedback/coupons", h.IssueFeedbackCoupon)
		r.With(h.RequireScope(auth.ScopeAdmin)).Get("/admin/discounts/{code}/usage", h.UsageStats)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

func badRequest(err error) error {
	return errors.Wrap(errBadRequest, err.Error())
}

// fail renders err. Unknown errors become an opaque 500 and are logged.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, promo.ErrInvalidCart),
		errors.Is(err, promo.ErrOrderRequired),
		errors.Is(err, promo.ErrInvalidRequest),
		errors.Is(err, feedback.ErrOrderRequired),
		errors.Is(err, feedback.ErrInvalidRating),
		errors.Is(err, spin.ErrEmailRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, discount.ErrCodeNotFound),
		errors.Is(err, spin.ErrEntryNotFound),
		errors.Is(err, feedback.ErrCouponNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		w.WriteHeader(499)
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
