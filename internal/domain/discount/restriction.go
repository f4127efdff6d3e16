package discount

import "strings"

// RestrictionType enumerates what a restriction inspects.
type RestrictionType string

const (
	RestrictProductSKU  RestrictionType = "PRODUCT_SKU"
	RestrictEmailDomain RestrictionType = "EMAIL_DOMAIN"
)

// Restriction limits which carts or customers a code serves. Include marks
// an allow-list entry, otherwise the value is denied.
type Restriction struct {
	Type    RestrictionType
	Value   string
	Include bool
}

// MatchRestrictions reports whether cart and email satisfy every
// restriction. For each type, include entries form an allow-list that must
// match at least once, and exclude entries must not match at all.
func MatchRestrictions(rs []Restriction, cart Cart, email string) bool {
	domain := EmailDomain(email)

	var (
		skuAllow, domainAllow       []string
		skuAllowHit, domainAllowHit bool
	)
	for _, r := range rs {
		var hit bool
		switch r.Type {
		case RestrictProductSKU:
			hit = cart.Contains(r.Value)
			if r.Include {
				skuAllow = append(skuAllow, r.Value)
				skuAllowHit = skuAllowHit || hit
			}
		case RestrictEmailDomain:
			hit = domain != "" && strings.EqualFold(strings.TrimPrefix(r.Value, "@"), domain)
			if r.Include {
				domainAllow = append(domainAllow, r.Value)
				domainAllowHit = domainAllowHit || hit
			}
		default:
			// Unknown restriction types fail closed.
			return false
		}
		if !r.Include && hit {
			return false
		}
	}

	if len(skuAllow) > 0 && !skuAllowHit {
		return false
	}
	if len(domainAllow) > 0 && !domainAllowHit {
		return false
	}
	return true
}

// EmailDomain returns the lower-cased part after the last '@', or "".
func EmailDomain(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}
