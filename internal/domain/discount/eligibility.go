package discount

import "time"

// Customer is the shopper context a decision is made for.
type Customer struct {
	Email       string
	PriorOrders int
}

// Check runs the catalog gates against c in their fixed order and returns
// the first failing reason, or ReasonNone. usage must come from the same
// snapshot the caller intends to act on.
func Check(c *Code, cart Cart, cust Customer, usage UsageCounts, now time.Time) Reason {
	if c == nil {
		return ReasonNotFound
	}
	if !c.Active {
		return ReasonInactive
	}
	if reason := CheckWindow(c, now); reason != ReasonNone {
		return reason
	}
	if c.MinOrderAmount != nil && cart.Subtotal() < *c.MinOrderAmount {
		return ReasonBelowMinimum
	}
	if c.MaxUsageTotal != nil && usage.Total >= *c.MaxUsageTotal {
		return ReasonUsageCapReached
	}
	if c.MaxUsagePerEmail != nil && usage.PerEmail >= *c.MaxUsagePerEmail {
		return ReasonPerEmailCap
	}
	if c.FirstOrderOnly && cust.PriorOrders > 0 {
		return ReasonNotFirstOrder
	}
	if !MatchRestrictions(c.Restrictions, cart, cust.Email) {
		return ReasonRestrictionFailed
	}
	return ReasonNone
}

// CheckWindow validates startsAt <= now <= expiresAt, treating unset bounds
// as unbounded.
func CheckWindow(c *Code, now time.Time) Reason {
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return ReasonNotYetValid
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ReasonExpired
	}
	return ReasonNone
}
