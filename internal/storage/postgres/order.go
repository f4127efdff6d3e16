package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/order"
)

const countCompletedOrdersSQL = `SELECT COUNT(*) FROM orders
	WHERE LOWER(email) = LOWER($1) AND status = $2 AND id <> $3`

var _ order.History = (*OrderHistory)(nil)

// OrderHistory implements order.History over the checkout service's orders
// table.
type OrderHistory struct {
	pool *pgxpool.Pool
}

// NewOrderHistory returns an OrderHistory that uses the given pool.
func NewOrderHistory(pool *pgxpool.Pool) *OrderHistory {
	return &OrderHistory{pool: pool}
}

// CountCompleted counts completed orders placed by email other than
// excludeOrderID.
func (h *OrderHistory) CountCompleted(ctx context.Context, email, excludeOrderID string) (int, error) {
	var n int
	err := h.pool.QueryRow(ctx, countCompletedOrdersSQL, email, order.StatusCompleted, excludeOrderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting orders of %q: %w", email, err)
	}
	return n, nil
}
