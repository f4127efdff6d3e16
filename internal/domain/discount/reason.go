package discount

// Reason is the machine-readable rejection category of a decision. It is
// meant for logs and support tooling, not for customers.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotFound          Reason = "NOT_FOUND"
	ReasonInactive          Reason = "INACTIVE"
	ReasonNotYetValid       Reason = "NOT_YET_VALID"
	ReasonExpired           Reason = "EXPIRED"
	ReasonBelowMinimum      Reason = "BELOW_MINIMUM"
	ReasonUsageCapReached   Reason = "USAGE_CAP_REACHED"
	ReasonPerEmailCap       Reason = "PER_EMAIL_CAP_REACHED"
	ReasonNotFirstOrder     Reason = "NOT_FIRST_ORDER"
	ReasonRestrictionFailed Reason = "RESTRICTION_FAILED"
	ReasonNoApplicableRules Reason = "NO_APPLICABLE_RULES"
	ReasonAlreadyUsed       Reason = "ALREADY_USED"
	ReasonSuperseded        Reason = "SUPERSEDED"
)

// restrictionMessage deliberately does not say which rule failed.
const restrictionMessage = "This code isn't valid for your order"

// CustomerMessage returns the text safe to show a shopper for reason r.
// minOrder is only used for BELOW_MINIMUM.
func CustomerMessage(r Reason, minOrder int64) string {
	switch r {
	case ReasonNotFound:
		return "Invalid discount code"
	case ReasonInactive:
		return "This discount code is no longer active"
	case ReasonNotYetValid:
		return "This discount code is not yet active"
	case ReasonExpired:
		return "This discount code has expired"
	case ReasonBelowMinimum:
		return "Minimum order of " + FormatMoney(minOrder) + " required for this discount"
	case ReasonUsageCapReached:
		return "This discount code has reached its usage limit"
	case ReasonPerEmailCap:
		return "You have already used this discount code"
	case ReasonNotFirstOrder:
		return "This discount code is only valid for first-time orders"
	case ReasonRestrictionFailed, ReasonNoApplicableRules:
		return restrictionMessage
	case ReasonAlreadyUsed:
		return "This code has already been used"
	case ReasonSuperseded:
		return "This code can't be combined with the other codes on your order"
	default:
		return ""
	}
}
