package discount

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// RuleType enumerates the rule variants a code may carry.
type RuleType string

const (
	RulePercentage   RuleType = "PERCENTAGE"
	RuleFixedAmount  RuleType = "FIXED_AMOUNT"
	RuleFreeShipping RuleType = "FREE_SHIPPING"
	RuleBogo         RuleType = "BOGO"
)

var hundred = decimal.NewFromInt(100)

// Rule is one discount rule attached to a code. The concrete types are
// PercentageRule, FixedAmountRule, FreeShippingRule and BogoRule.
type Rule interface {
	Type() RuleType
	Base() RuleBase
	// Apply computes the rule's contribution. The bool is false when the
	// rule does not apply to the cart at all.
	Apply(cart Cart, subtotal int64) (Contribution, bool)
}

// RuleBase carries the fields shared by every rule variant.
type RuleBase struct {
	ID             string
	MinOrderAmount *int64
	Priority       int
}

// Base returns the shared rule fields.
func (b RuleBase) Base() RuleBase { return b }

func (b RuleBase) qualifies(subtotal int64) bool {
	return b.MinOrderAmount == nil || subtotal >= *b.MinOrderAmount
}

// Contribution is the effect of a single rule.
type Contribution struct {
	RuleID       string
	Type         RuleType
	Amount       int64
	FreeShipping bool
	FreeItem     *FreeItem

	// Percent and MaxDiscount echo a percentage rule's terms for summaries.
	Percent     decimal.Decimal
	MaxDiscount *int64
}

// FreeItem describes units discounted by a BOGO rule.
type FreeItem struct {
	SKU         string
	Quantity    int
	Value       int64
	DiscountPct decimal.Decimal
}

// PercentageRule takes Value percent off the subtotal, optionally capped.
type PercentageRule struct {
	RuleBase
	Value       decimal.Decimal
	MaxDiscount *int64
}

func (PercentageRule) Type() RuleType { return RulePercentage }

func (r PercentageRule) Apply(_ Cart, subtotal int64) (Contribution, bool) {
	amount := percentOf(subtotal, r.Value)
	if r.MaxDiscount != nil && amount > *r.MaxDiscount {
		amount = *r.MaxDiscount
	}
	return Contribution{
		RuleID:      r.ID,
		Type:        RulePercentage,
		Amount:      clamp(amount, subtotal),
		Percent:     r.Value,
		MaxDiscount: r.MaxDiscount,
	}, true
}

// FixedAmountRule takes a fixed amount off, never below zero.
type FixedAmountRule struct {
	RuleBase
	Value int64
}

func (FixedAmountRule) Type() RuleType { return RuleFixedAmount }

func (r FixedAmountRule) Apply(_ Cart, subtotal int64) (Contribution, bool) {
	return Contribution{RuleID: r.ID, Type: RuleFixedAmount, Amount: clamp(r.Value, subtotal)}, true
}

// FreeShippingRule waives shipping and contributes nothing to the subtotal.
type FreeShippingRule struct {
	RuleBase
}

func (FreeShippingRule) Type() RuleType { return RuleFreeShipping }

func (r FreeShippingRule) Apply(_ Cart, _ int64) (Contribution, bool) {
	return Contribution{RuleID: r.ID, Type: RuleFreeShipping, FreeShipping: true}, true
}

// BogoRule discounts GetQuantity units of GetSKU for every BuyQuantity units
// of BuySKU, bounded by how many GetSKU units the cart actually holds.
type BogoRule struct {
	RuleBase
	BuySKU         string
	BuyQuantity    int
	GetSKU         string
	GetQuantity    int
	GetDiscountPct decimal.Decimal
}

func (BogoRule) Type() RuleType { return RuleBogo }

func (r BogoRule) Apply(cart Cart, subtotal int64) (Contribution, bool) {
	if r.BuyQuantity <= 0 || r.GetQuantity <= 0 {
		return Contribution{}, false
	}
	price, ok := cart.UnitPrice(r.GetSKU)
	if !ok {
		return Contribution{}, false
	}
	groups := cart.Quantity(r.BuySKU) / r.BuyQuantity
	units := min(groups*r.GetQuantity, cart.Quantity(r.GetSKU))
	if units <= 0 {
		return Contribution{}, false
	}

	value := int64(units) * price
	amount := percentOf(value, r.GetDiscountPct)
	return Contribution{
		RuleID: r.ID,
		Type:   RuleBogo,
		Amount: clamp(amount, subtotal),
		FreeItem: &FreeItem{
			SKU:         r.GetSKU,
			Quantity:    units,
			Value:       value,
			DiscountPct: r.GetDiscountPct,
		},
	}, true
}

// Evaluation is the combined effect of one code's rules on a cart.
type Evaluation struct {
	Amount        int64
	FreeShipping  bool
	Contributions []Contribution
	FreeItems     []FreeItem
}

// Applies reports whether at least one rule contributed.
func (e Evaluation) Applies() bool { return len(e.Contributions) > 0 }

// Evaluate applies every rule of c whose own minimum is met, in descending
// rule priority, and clamps the sum to the code's global cap and to the
// subtotal. Rules within one code always combine.
func Evaluate(c *Code, cart Cart) Evaluation {
	subtotal := cart.Subtotal()

	rules := slices.Clone(c.Rules)
	slices.SortStableFunc(rules, func(a, b Rule) int {
		return cmp.Compare(b.Base().Priority, a.Base().Priority)
	})

	var ev Evaluation
	var sum int64
	for _, r := range rules {
		if !r.Base().qualifies(subtotal) {
			continue
		}
		contrib, ok := r.Apply(cart, subtotal)
		if !ok {
			continue
		}
		sum += contrib.Amount
		if contrib.FreeShipping {
			ev.FreeShipping = true
		}
		if contrib.FreeItem != nil {
			ev.FreeItems = append(ev.FreeItems, *contrib.FreeItem)
		}
		ev.Contributions = append(ev.Contributions, contrib)
	}

	if c.MaxDiscountAmount != nil && sum > *c.MaxDiscountAmount {
		sum = *c.MaxDiscountAmount
	}
	ev.Amount = clamp(sum, subtotal)
	return ev
}

// RuleSpec is the loosely typed storage shape of a rule. DecodeRule turns it
// into a concrete variant.
type RuleSpec struct {
	ID             string
	Type           RuleType
	Value          *decimal.Decimal
	MaxDiscount    *int64
	BuySKU         *string
	BuyQuantity    *int
	GetSKU         *string
	GetQuantity    *int
	GetDiscountPct *decimal.Decimal
	MinOrderAmount *int64
	Priority       int
}

// InvalidRuleError reports a stored rule whose fields do not fit its type.
type InvalidRuleError struct {
	RuleID string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule %s: %s", e.RuleID, e.Reason)
}

// DecodeRule builds the concrete rule variant described by s.
func DecodeRule(s RuleSpec) (Rule, error) {
	base := RuleBase{ID: s.ID, MinOrderAmount: s.MinOrderAmount, Priority: s.Priority}
	invalid := func(reason string) error {
		return &InvalidRuleError{RuleID: s.ID, Reason: reason}
	}

	switch s.Type {
	case RulePercentage:
		if s.Value == nil {
			return nil, invalid("percentage rule without value")
		}
		if s.Value.IsNegative() || s.Value.GreaterThan(hundred) {
			return nil, invalid("percentage out of range")
		}
		return PercentageRule{RuleBase: base, Value: *s.Value, MaxDiscount: s.MaxDiscount}, nil
	case RuleFixedAmount:
		if s.Value == nil || s.Value.IsNegative() {
			return nil, invalid("fixed amount rule without non-negative value")
		}
		return FixedAmountRule{RuleBase: base, Value: s.Value.IntPart()}, nil
	case RuleFreeShipping:
		return FreeShippingRule{RuleBase: base}, nil
	case RuleBogo:
		if s.BuySKU == nil || s.GetSKU == nil || s.BuyQuantity == nil || s.GetQuantity == nil {
			return nil, invalid("bogo rule missing buy/get fields")
		}
		if *s.BuyQuantity <= 0 || *s.GetQuantity <= 0 {
			return nil, invalid("bogo quantities must be positive")
		}
		pct := hundred
		if s.GetDiscountPct != nil {
			pct = *s.GetDiscountPct
		}
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return nil, invalid("bogo discount percent out of range")
		}
		return BogoRule{
			RuleBase:       base,
			BuySKU:         *s.BuySKU,
			BuyQuantity:    *s.BuyQuantity,
			GetSKU:         *s.GetSKU,
			GetQuantity:    *s.GetQuantity,
			GetDiscountPct: pct,
		}, nil
	default:
		return nil, invalid(fmt.Sprintf("unknown type %q", s.Type))
	}
}

// percentOf returns floor(amount * pct / 100).
func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Floor().IntPart()
}

func clamp(amount, subtotal int64) int64 {
	return max(0, min(amount, subtotal))
}
