package promo

import (
	"context"
	"time"
)

// Event is published after a redemption commits.
type Event struct {
	Code         string
	Namespace    Namespace
	Type         DiscountType
	OrderID      string
	Email        string
	Subtotal     int64
	Amount       int64
	FreeShipping bool
	RedeemedAt   time.Time
}

// Publisher delivers redemption events to downstream consumers. Delivery is
// best-effort: the redemption has already committed when Publish runs.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(r Redemption, req Request) Event {
	return Event{
		Code:         r.Code,
		Namespace:    r.Namespace,
		Type:         r.Type,
		OrderID:      r.OrderID,
		Email:        req.Email,
		Subtotal:     req.Cart.Subtotal(),
		Amount:       r.Amount,
		FreeShipping: r.FreeShipping,
		RedeemedAt:   r.RedeemedAt,
	}
}
