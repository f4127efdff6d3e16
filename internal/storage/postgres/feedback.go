package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/feedback"
)

const (
	couponColumns = `id, order_id, email, coupon_code, rating, coupon_used, coupon_used_at,
		expires_at, created_at, submitted_at`

	getCouponByCodeSQL  = `SELECT ` + couponColumns + ` FROM feedback_coupons WHERE coupon_code = $1`
	getCouponByOrderSQL = `SELECT ` + couponColumns + ` FROM feedback_coupons WHERE order_id = $1`

	createCouponSQL = `INSERT INTO feedback_coupons
		(id, order_id, email, coupon_code, rating, expires_at, created_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	markCouponUsedSQL = `UPDATE feedback_coupons SET coupon_used = TRUE, coupon_used_at = $2
		WHERE coupon_code = $1 AND NOT coupon_used AND expires_at > $2`

	couponCodeConstraint  = "feedback_coupons_code_key"
	couponOrderConstraint = "feedback_coupons_order_key"
)

var _ feedback.Store = (*FeedbackStore)(nil)

// FeedbackStore implements feedback.Store backed by PostgreSQL.
type FeedbackStore struct {
	pool *pgxpool.Pool
}

// NewFeedbackStore returns a FeedbackStore that uses the given pool.
func NewFeedbackStore(pool *pgxpool.Pool) *FeedbackStore {
	return &FeedbackStore{pool: pool}
}

// GetByCode returns the coupon with the exact code.
func (s *FeedbackStore) GetByCode(ctx context.Context, code string) (*feedback.Coupon, error) {
	return s.getOne(ctx, getCouponByCodeSQL, code)
}

// GetByOrder returns the coupon issued for orderID.
func (s *FeedbackStore) GetByOrder(ctx context.Context, orderID string) (*feedback.Coupon, error) {
	return s.getOne(ctx, getCouponByOrderSQL, orderID)
}

func (s *FeedbackStore) getOne(ctx context.Context, query, arg string) (*feedback.Coupon, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding feedback coupon: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, feedback.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding feedback coupon: %w", err)
	}
	return c, nil
}

// Create inserts c. Collisions on the code return feedback.ErrCodeTaken and
// a second coupon for the order returns feedback.ErrOrderHasCoupon.
func (s *FeedbackStore) Create(ctx context.Context, c *feedback.Coupon) error {
	_, err := s.pool.Exec(ctx, createCouponSQL,
		c.ID, c.OrderID, c.Email, c.Code, c.Rating, c.ExpiresAt, c.CreatedAt, c.SubmittedAt,
	)
	if err == nil {
		return nil
	}
	switch constraint, ok := uniqueViolation(err); {
	case ok && constraint == couponCodeConstraint:
		return feedback.ErrCodeTaken
	case ok && constraint == couponOrderConstraint:
		return feedback.ErrOrderHasCoupon
	default:
		return fmt.Errorf("creating feedback coupon for order %q: %w", c.OrderID, err)
	}
}

// MarkUsed flips the coupon to used if it is unused and unexpired at now.
func (s *FeedbackStore) MarkUsed(ctx context.Context, code string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, markCouponUsedSQL, code, now)
	if err != nil {
		return false, fmt.Errorf("marking coupon %q used: %w", code, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanCoupon(row pgx.CollectableRow) (*feedback.Coupon, error) {
	var (
		c      feedback.Coupon
		rating *int16
	)
	err := row.Scan(
		&c.ID, &c.OrderID, &c.Email, &c.Code, &rating, &c.Used, &c.UsedAt,
		&c.ExpiresAt, &c.CreatedAt, &c.SubmittedAt,
	)
	if rating != nil {
		r := int(*rating)
		c.Rating = &r
	}
	return &c, err
}
