package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/feedback"
)

// feedbackValidator accepts loyalty coupons. They carry no minimum order and
// no first-order gate.
type feedbackValidator struct {
	store feedback.Store
	now   func() time.Time
}

func (v *feedbackValidator) Namespace() Namespace { return NamespaceFeedback }

func (v *feedbackValidator) Validate(ctx context.Context, req Request) (Decision, error) {
	c, err := v.store.GetByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, feedback.ErrCouponNotFound) {
			return reject(NamespaceFeedback, req.Code, discount.ReasonNotFound), nil
		}
		return Decision{}, errors.Wrap(err, "get feedback coupon")
	}
	if reason := v.gate(c); reason != discount.ReasonNone {
		return reject(NamespaceFeedback, c.Code, reason), nil
	}

	subtotal := req.Cart.Subtotal()
	contrib, _ := discount.PercentageRule{Value: decimal.NewFromInt(feedback.Percent)}.Apply(req.Cart, subtotal)
	d := Decision{
		Valid:     true,
		Code:      c.Code,
		Namespace: NamespaceFeedback,
		Type:      TypePercentage,
		Amount:    contrib.Amount,
		Percent:   contrib.Percent,
		Name:      "Thank-you coupon",
	}
	d.Message = "Thanks for your feedback! " + d.Summary()
	return d, nil
}

func (v *feedbackValidator) Redeem(ctx context.Context, req Request, _ string) (Decision, error) {
	d, err := v.Validate(ctx, req)
	if err != nil || !d.Valid {
		return d, err
	}

	ok, err := v.store.MarkUsed(ctx, d.Code, v.now())
	if err != nil {
		return Decision{}, errors.Wrap(err, "mark feedback coupon used")
	}
	if ok {
		return d, nil
	}

	c, err := v.store.GetByCode(ctx, d.Code)
	if err != nil {
		return Decision{}, errors.Wrap(err, "reload feedback coupon")
	}
	reason := v.gate(c)
	if reason == discount.ReasonNone {
		reason = discount.ReasonAlreadyUsed
	}
	return reject(NamespaceFeedback, d.Code, reason), nil
}

func (v *feedbackValidator) gate(c *feedback.Coupon) discount.Reason {
	switch {
	case c.Used:
		return discount.ReasonAlreadyUsed
	case c.Expired(v.now()):
		return discount.ReasonExpired
	default:
		return discount.ReasonNone
	}
}
