// Package discount holds the catalog discount model and the pure functions
// that evaluate it: rule evaluation, restriction matching, eligibility gates
// and cross-code stacking. Nothing in this package performs I/O.
package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrCodeNotFound is returned by stores when no catalog code matches.
	ErrCodeNotFound = errors.New("discount code not found")
	// ErrDuplicateUsage is returned by Queries.InsertUsage when the order
	// already holds a usage record for the code.
	ErrDuplicateUsage = errors.New("usage already recorded for order")
)

// Code is an admin-authored catalog discount code. It is read-only to the
// engine; authoring happens elsewhere.
type Code struct {
	ID          string
	Code        string
	Name        string
	Description string
	Active      bool

	StartsAt  *time.Time
	ExpiresAt *time.Time

	MinOrderAmount    *int64
	MaxDiscountAmount *int64
	MaxUsageTotal     *int
	MaxUsagePerEmail  *int

	FirstOrderOnly bool
	Stackable      bool
	Priority       int

	Rules        []Rule
	Restrictions []Restriction
}

// UsageRecord is the append-only fact of one redemption.
type UsageRecord struct {
	CodeID          string
	Email           string
	OrderID         string
	Subtotal        int64
	DiscountApplied int64
	RedeemedAt      time.Time
}

// UsageCounts is the snapshot of redemption counts the eligibility gates need.
type UsageCounts struct {
	Total    int
	PerEmail int
}

// UsageStats summarises the redemption history of one code.
type UsageStats struct {
	Code           string
	Redemptions    int
	DistinctEmails int
	TotalDiscount  int64
	LastRedeemedAt *time.Time
}

// Item is a cart line. UnitPrice is in minor currency units.
type Item struct {
	SKU       string
	Quantity  int
	UnitPrice int64
}

// Cart is the snapshot a decision is computed against.
type Cart struct {
	Items []Item
}

// Subtotal sums quantity * unit price over all lines.
func (c Cart) Subtotal() int64 {
	var sum int64
	for _, it := range c.Items {
		sum += int64(it.Quantity) * it.UnitPrice
	}
	return sum
}

// Quantity returns the total quantity of sku across all lines.
func (c Cart) Quantity(sku string) int {
	n := 0
	for _, it := range c.Items {
		if it.SKU == sku {
			n += it.Quantity
		}
	}
	return n
}

// UnitPrice returns the unit price of the first line carrying sku.
func (c Cart) UnitPrice(sku string) (int64, bool) {
	for _, it := range c.Items {
		if it.SKU == sku {
			return it.UnitPrice, true
		}
	}
	return 0, false
}

// Contains reports whether any line carries sku.
func (c Cart) Contains(sku string) bool {
	_, ok := c.UnitPrice(sku)
	return ok
}

// Queries are the reads and writes the catalog namespace needs from storage.
// Implementations exist for both pool scope and transaction scope.
type Queries interface {
	// GetCode loads a code with its rules and restrictions. When forUpdate is
	// set the code row is locked until the surrounding transaction ends.
	GetCode(ctx context.Context, code string, forUpdate bool) (*Code, error)
	CountUsage(ctx context.Context, codeID, email string) (UsageCounts, error)
	UsageExists(ctx context.Context, codeID, orderID string) (bool, error)
	InsertUsage(ctx context.Context, rec UsageRecord) error
}

// Store is the catalog persistence boundary.
type Store interface {
	Queries
	// ExecTx runs fn inside a single transaction. A nil return commits.
	ExecTx(ctx context.Context, fn func(q Queries) error) error
	UsageStats(ctx context.Context, code string) (*UsageStats, error)
}

// NormalizeCode trims and upper-cases a raw code string.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// FormatMoney renders minor units as a dollar string, e.g. 1250 -> "$12.50".
func FormatMoney(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
