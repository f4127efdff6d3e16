package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/spin"
)

type spinValidator struct {
	store spin.Store
	now   func() time.Time
}

func (v *spinValidator) Namespace() Namespace { return NamespaceSpin }

func (v *spinValidator) Validate(ctx context.Context, req Request) (Decision, error) {
	e, err := v.store.GetByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, spin.ErrEntryNotFound) {
			return reject(NamespaceSpin, req.Code, discount.ReasonNotFound), nil
		}
		return Decision{}, errors.Wrap(err, "get spin entry")
	}
	if reason := v.gate(e); reason != discount.ReasonNone {
		return reject(NamespaceSpin, e.Code, reason), nil
	}
	prize, ok := spin.LookupPrize(e.Prize)
	if !ok {
		return Decision{}, errors.Errorf("spin entry %s references unknown prize %q", e.ID, e.Prize)
	}
	return prizeDecision(e.Code, prize, req.Cart), nil
}

// Redeem marks the entry used with a conditional update. A lost update is
// classified by re-reading the entry.
func (v *spinValidator) Redeem(ctx context.Context, req Request, _ string) (Decision, error) {
	d, err := v.Validate(ctx, req)
	if err != nil || !d.Valid {
		return d, err
	}

	ok, err := v.store.MarkUsed(ctx, d.Code, v.now())
	if err != nil {
		return Decision{}, errors.Wrap(err, "mark spin entry used")
	}
	if ok {
		return d, nil
	}

	e, err := v.store.GetByCode(ctx, d.Code)
	if err != nil {
		return Decision{}, errors.Wrap(err, "reload spin entry")
	}
	reason := v.gate(e)
	if reason == discount.ReasonNone {
		reason = discount.ReasonAlreadyUsed
	}
	return reject(NamespaceSpin, d.Code, reason), nil
}

func (v *spinValidator) gate(e *spin.Entry) discount.Reason {
	switch {
	case e.Used:
		return discount.ReasonAlreadyUsed
	case e.Expired(v.now()):
		return discount.ReasonExpired
	default:
		return discount.ReasonNone
	}
}

// prizeDecision maps a prize onto the normalized decision. Monetary prizes
// reuse the catalog rule math so clamping behaves identically.
func prizeDecision(code string, p spin.Prize, cart discount.Cart) Decision {
	subtotal := cart.Subtotal()
	d := Decision{
		Valid:     true,
		Code:      code,
		Namespace: NamespaceSpin,
		Name:      p.Name,
		Message:   p.Description,
	}
	switch p.Kind {
	case spin.KindFixed:
		c, _ := discount.FixedAmountRule{Value: p.Amount}.Apply(cart, subtotal)
		d.Type, d.Amount = TypeFixedAmount, c.Amount
	case spin.KindPercentage:
		r := discount.PercentageRule{Value: decimal.NewFromInt(p.Percent)}
		if p.MaxDiscount > 0 {
			r.MaxDiscount = &p.MaxDiscount
		}
		c, _ := r.Apply(cart, subtotal)
		d.Type, d.Amount = TypePercentage, c.Amount
		d.Percent, d.MaxDiscount = c.Percent, c.MaxDiscount
	case spin.KindFreeShipping:
		d.Type, d.FreeShipping = TypeFreeShipping, true
	case spin.KindProduct:
		d.Type, d.GrantedSKU, d.GrantedQuantity = TypeProduct, p.SKU, p.Quantity
	case spin.KindBonus:
		d.Type, d.GrantedSKU, d.GrantedQuantity = TypeBonus, p.SKU, p.Quantity
	}
	return d
}
