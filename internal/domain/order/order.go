// Package order describes the slice of order history the promotion engine
// reads. Orders themselves are written by the checkout service.
package order

import "context"

// StatusCompleted marks an order that counts towards a customer's history.
const StatusCompleted = "completed"

// History answers questions about a customer's past orders.
type History interface {
	// CountCompleted returns how many completed orders email has placed,
	// ignoring excludeOrderID so the order being redeemed does not count
	// against itself.
	CountCompleted(ctx context.Context, email, excludeOrderID string) (int, error)
}
