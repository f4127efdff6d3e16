package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/order"
)

// errRedeemConflict aborts a catalog redemption transaction whose usage
// insert lost to a concurrent redemption of the same order.
var errRedeemConflict = errors.New("usage already recorded")

type catalogValidator struct {
	store   discount.Store
	history order.History
	now     func() time.Time
}

func (v *catalogValidator) Namespace() Namespace { return NamespaceCatalog }

func (v *catalogValidator) Validate(ctx context.Context, req Request) (Decision, error) {
	c, err := v.store.GetCode(ctx, req.Code, false)
	if err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			return reject(NamespaceCatalog, req.Code, discount.ReasonNotFound), nil
		}
		return Decision{}, errors.Wrap(err, "get code")
	}
	return v.decide(ctx, v.store, c, req, "")
}

// Redeem locks the code row, re-runs every gate against the counts visible
// inside the transaction and appends the usage record. The recorded amount
// honours req.MaxAmount so stacked codes never record more than they took.
func (v *catalogValidator) Redeem(ctx context.Context, req Request, orderID string) (Decision, error) {
	var d Decision
	err := v.store.ExecTx(ctx, func(q discount.Queries) error {
		c, err := q.GetCode(ctx, req.Code, true)
		if err != nil {
			if errors.Is(err, discount.ErrCodeNotFound) {
				d = reject(NamespaceCatalog, req.Code, discount.ReasonNotFound)
				return nil
			}
			return errors.Wrap(err, "lock code")
		}

		redeemed, err := q.UsageExists(ctx, c.ID, orderID)
		if err != nil {
			return errors.Wrap(err, "check order usage")
		}
		if redeemed {
			d = reject(NamespaceCatalog, c.Code, discount.ReasonAlreadyUsed)
			return nil
		}

		d, err = v.decide(ctx, q, c, req, orderID)
		if err != nil || !d.Valid {
			return err
		}
		d = capAmount(d, req.MaxAmount)

		err = q.InsertUsage(ctx, discount.UsageRecord{
			CodeID:          c.ID,
			Email:           req.Email,
			OrderID:         orderID,
			Subtotal:        req.Cart.Subtotal(),
			DiscountApplied: d.Amount,
			RedeemedAt:      v.now(),
		})
		if err != nil {
			if errors.Is(err, discount.ErrDuplicateUsage) {
				return errRedeemConflict
			}
			return errors.Wrap(err, "insert usage")
		}
		return nil
	})
	if errors.Is(err, errRedeemConflict) {
		return reject(NamespaceCatalog, req.Code, discount.ReasonAlreadyUsed), nil
	}
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// decide runs the gates and rules for c using q for usage counts.
func (v *catalogValidator) decide(
	ctx context.Context,
	q discount.Queries,
	c *discount.Code,
	req Request,
	orderID string,
) (Decision, error) {
	usage, err := q.CountUsage(ctx, c.ID, req.Email)
	if err != nil {
		return Decision{}, errors.Wrap(err, "count usage")
	}

	cust := discount.Customer{Email: req.Email}
	switch {
	case !c.FirstOrderOnly:
	case req.PriorOrders != nil:
		cust.PriorOrders = *req.PriorOrders
	default:
		cust.PriorOrders, err = v.history.CountCompleted(ctx, req.Email, orderID)
		if err != nil {
			return Decision{}, errors.Wrap(err, "count prior orders")
		}
	}

	if reason := discount.Check(c, req.Cart, cust, usage, v.now()); reason != discount.ReasonNone {
		d := reject(NamespaceCatalog, c.Code, reason)
		if reason == discount.ReasonBelowMinimum && c.MinOrderAmount != nil {
			d.Message = discount.CustomerMessage(reason, *c.MinOrderAmount)
		}
		return d, nil
	}

	ev := discount.Evaluate(c, req.Cart)
	if !ev.Applies() {
		return reject(NamespaceCatalog, c.Code, discount.ReasonNoApplicableRules), nil
	}

	d := Decision{
		Valid:        true,
		Code:         c.Code,
		Namespace:    NamespaceCatalog,
		Type:         primaryType(ev),
		Amount:       ev.Amount,
		FreeShipping: ev.FreeShipping,
		Name:         c.Name,
		Rules:        ev.Contributions,
		FreeItems:    ev.FreeItems,
		Priority:     c.Priority,
		Stackable:    c.Stackable,
	}
	if d.Type == TypePercentage {
		for _, contrib := range ev.Contributions {
			if contrib.Type == discount.RulePercentage {
				d.Percent, d.MaxDiscount = contrib.Percent, contrib.MaxDiscount
				break
			}
		}
	}
	d.Message = "Discount applied: " + d.Summary()
	if d.Amount == 0 && !d.FreeShipping && c.Description != "" {
		d.Message = c.Description
	}
	return d, nil
}

// primaryType names a multi-rule decision after its first rule with a
// monetary effect, falling back to the first rule applied.
func primaryType(ev discount.Evaluation) DiscountType {
	pick := ev.Contributions[0]
	for _, c := range ev.Contributions {
		if c.Amount > 0 {
			pick = c
			break
		}
	}
	switch pick.Type {
	case discount.RulePercentage:
		return TypePercentage
	case discount.RuleFixedAmount:
		return TypeFixedAmount
	case discount.RuleBogo:
		return TypeBogo
	default:
		return TypeFreeShipping
	}
}
