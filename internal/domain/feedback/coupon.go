// Package feedback issues and tracks the thank-you coupons sent to customers
// who rate an order.
package feedback

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// CodePrefix marks feedback coupon codes.
	CodePrefix = "THANKS-"
	// Percent is the discount every feedback coupon grants.
	Percent = 10
	// DefaultTTL is the coupon lifetime from issuance.
	DefaultTTL = 30 * 24 * time.Hour
	// DefaultCodeAttempts bounds retries on code collisions.
	DefaultCodeAttempts = 5

	// codeAlphabet omits I, O, 0 and 1.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

var (
	// ErrCouponNotFound is returned by stores when no coupon matches.
	ErrCouponNotFound = errors.New("feedback coupon not found")
	// ErrCodeTaken is returned by Store.Create when the generated code
	// collides with an existing coupon.
	ErrCodeTaken = errors.New("coupon code already taken")
	// ErrOrderHasCoupon is returned by Store.Create when the order already
	// holds a coupon.
	ErrOrderHasCoupon = errors.New("order already has a feedback coupon")
	// ErrInvalidRating is returned for ratings outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	// ErrOrderRequired is returned when no order id is supplied.
	ErrOrderRequired = errors.New("order id is required")
)

// Coupon is a feedback reward tied to one order.
type Coupon struct {
	ID          string
	OrderID     string
	Email       string
	Code        string
	Rating      *int
	Used        bool
	UsedAt      *time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
	SubmittedAt *time.Time
}

// Expired reports whether the coupon can no longer be redeemed at now.
func (c *Coupon) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Store persists feedback coupons.
type Store interface {
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	GetByOrder(ctx context.Context, orderID string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	// MarkUsed flips used to true only if the coupon is unused and unexpired
	// at now. It reports whether this call performed the transition.
	MarkUsed(ctx context.Context, code string, now time.Time) (bool, error)
}

// Service issues feedback coupons.
type Service struct {
	store    Store
	ttl      time.Duration
	attempts int
	now      func() time.Time
	newCode  func() (string, error)
}

// NewService creates a Service. Zero ttl or attempts select the defaults.
func NewService(store Store, ttl time.Duration, attempts int) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if attempts <= 0 {
		attempts = DefaultCodeAttempts
	}
	return &Service{
		store:    store,
		ttl:      ttl,
		attempts: attempts,
		now:      time.Now,
		newCode:  NewCode,
	}
}

// Issue records a rating for orderID and returns its coupon. Repeated calls
// for the same order return the coupon issued first.
func (s *Service) Issue(ctx context.Context, orderID, email string, rating int) (*Coupon, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrOrderRequired
	}
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	existing, err := s.store.GetByOrder(ctx, orderID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, ErrCouponNotFound):
		return nil, errors.Wrap(err, "lookup order coupon")
	}

	now := s.now()
	for range s.attempts {
		code, err := s.newCode()
		if err != nil {
			return nil, errors.Wrap(err, "generate code")
		}
		c := &Coupon{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			Email:       strings.ToLower(strings.TrimSpace(email)),
			Code:        code,
			Rating:      &rating,
			ExpiresAt:   now.Add(s.ttl),
			CreatedAt:   now,
			SubmittedAt: &now,
		}
		err = s.store.Create(ctx, c)
		switch {
		case err == nil:
			zctx.From(ctx).Info("Feedback coupon issued",
				zap.String("order_id", orderID),
				zap.Int("rating", rating),
			)
			return c, nil
		case errors.Is(err, ErrCodeTaken):
			continue
		case errors.Is(err, ErrOrderHasCoupon):
			return s.store.GetByOrder(ctx, orderID)
		default:
			return nil, errors.Wrap(err, "create feedback coupon")
		}
	}
	return nil, errors.Errorf("no unique coupon code after %d attempts", s.attempts)
}

// NewCode returns THANKS- followed by six characters from codeAlphabet.
func NewCode() (string, error) {
	var sb strings.Builder
	sb.Grow(len(CodePrefix) + codeLength)
	sb.WriteString(CodePrefix)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for range codeLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
