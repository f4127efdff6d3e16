// Package promo resolves raw discount codes from any namespace into a single
// decision shape and redeems them exactly once.
package promo

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

// Namespace is the code family that decides which validator applies.
type Namespace string

const (
	NamespaceCatalog  Namespace = "catalog"
	NamespaceSpin     Namespace = "spin"
	NamespaceFeedback Namespace = "feedback"
)

// DiscountType is the customer-visible kind of a decision.
type DiscountType string

const (
	TypePercentage   DiscountType = "percentage"
	TypeFixedAmount  DiscountType = "fixed_amount"
	TypeFreeShipping DiscountType = "free_shipping"
	TypeBogo         DiscountType = "bogo"
	TypeProduct      DiscountType = "product"
	TypeBonus        DiscountType = "bonus"
)

// Request is the input shared by validation and redemption.
type Request struct {
	Code  string
	Email string
	Cart  discount.Cart

	// PriorOrders is the caller's count of the customer's completed orders.
	// When nil the first-order gate asks order.History instead.
	PriorOrders *int
	// MaxAmount caps the discount Redeem grants and records, e.g. the
	// amount ValidateAll applied after stacking. Nil means uncapped.
	MaxAmount *int64
}

// Decision is the normalized outcome for one code, whatever its namespace.
// Amount is zero whenever Valid is false.
type Decision struct {
	Valid     bool
	Code      string
	Namespace Namespace
	Reason    discount.Reason
	Message   string

	Type            DiscountType
	Amount          int64
	FreeShipping    bool
	GrantedSKU      string
	GrantedQuantity int

	// Percent and MaxDiscount describe percentage decisions.
	Percent     decimal.Decimal
	MaxDiscount *int64

	// Catalog codes only.
	Name      string
	Rules     []discount.Contribution
	FreeItems []discount.FreeItem
	Priority  int
	Stackable bool

	// Applied is set by ValidateAll for decisions that made the final set.
	Applied bool
}

// Summary renders the decision's effect on one line, e.g.
// "10% off (max $10.00) + free shipping".
func (d Decision) Summary() string {
	if !d.Valid {
		return ""
	}
	var parts []string
	switch {
	case d.Amount <= 0, d.Type == TypeBogo:
	case d.Type == TypePercentage && d.Percent.IsPositive():
		p := d.Percent.String() + "% off"
		if d.MaxDiscount != nil {
			p += " (max " + discount.FormatMoney(*d.MaxDiscount) + ")"
		}
		parts = append(parts, p)
	default:
		parts = append(parts, discount.FormatMoney(d.Amount)+" off")
	}
	for _, it := range d.FreeItems {
		if it.DiscountPct.Equal(decimal.NewFromInt(100)) {
			parts = append(parts, fmt.Sprintf("%d x %s free", it.Quantity, it.SKU))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d x %s at %s%% off", it.Quantity, it.SKU, it.DiscountPct.String()))
	}
	switch {
	case d.GrantedSKU != "" && d.GrantedQuantity > 0:
		parts = append(parts, fmt.Sprintf("%d x %s free", d.GrantedQuantity, d.GrantedSKU))
	case d.GrantedQuantity > 0:
		parts = append(parts, fmt.Sprintf("%d bonus items", d.GrantedQuantity))
	}
	if d.FreeShipping {
		parts = append(parts, "free shipping")
	}
	return strings.Join(parts, " + ")
}

func reject(ns Namespace, code string, reason discount.Reason) Decision {
	return Decision{
		Code:      code,
		Namespace: ns,
		Reason:    reason,
		Message:   discount.CustomerMessage(reason, 0),
	}
}

// Selection is the outcome of validating several codes for one order.
type Selection struct {
	Decisions    []Decision
	Total        int64
	FreeShipping bool
}

// Redemption is the outcome of Redeem. Decision.Valid reports whether this
// call consumed the code.
type Redemption struct {
	Decision
	OrderID    string
	RedeemedAt time.Time
}
