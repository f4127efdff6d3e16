package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/feedback"
	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/domain/spin"
)

// promoBody is the union of the discount endpoints' request fields.
type promoBody struct {
	Code    string
	Codes   []string
	Email   string
	OrderID string
	Items   []discount.Item

	PriorOrders *int
	MaxAmount   *int64
}

func (b promoBody) request() promo.Request {
	return promo.Request{
		Code:        b.Code,
		Email:       b.Email,
		Cart:        discount.Cart{Items: b.Items},
		PriorOrders: b.PriorOrders,
		MaxAmount:   b.MaxAmount,
	}
}

func readBody(r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) > maxBodyBytes {
		return nil, badRequest(errors.New("body too large"))
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, badRequest(errors.New("empty body"))
	}
	return jx.DecodeBytes(data), nil
}

func decodePromoBody(r *http.Request) (promoBody, error) {
	var b promoBody
	d, err := readBody(r)
	if err != nil {
		return b, err
	}
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "code":
			return decodeStr(d, &b.Code)
		case "email":
			return decodeStr(d, &b.Email)
		case "orderId":
			return decodeStr(d, &b.OrderID)
		case "priorCompletedOrderCount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			n, err := d.Int()
			if err != nil {
				return err
			}
			b.PriorOrders = &n
			return nil
		case "maxAmount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			n, err := d.Int64()
			if err != nil {
				return err
			}
			b.MaxAmount = &n
			return nil
		case "codes":
			return d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return err
				}
				b.Codes = append(b.Codes, s)
				return nil
			})
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				if err != nil {
					return err
				}
				b.Items = append(b.Items, it)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return b, badRequest(err)
	}
	return b, nil
}

func decodeItem(d *jx.Decoder) (discount.Item, error) {
	var it discount.Item
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "sku":
			it.SKU, err = d.Str()
		case "quantity":
			it.Quantity, err = d.Int()
		case "unitPrice":
			it.UnitPrice, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	return it, err
}

// decodeStr accepts a string or null.
func decodeStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

type drawBody struct{ Email string }

func decodeDrawBody(r *http.Request) (drawBody, error) {
	var b drawBody
	d, err := readBody(r)
	if err != nil {
		return b, err
	}
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "email":
			return decodeStr(d, &b.Email)
		case "prizeId", "clientPrizeId":
			return errors.New("prize is chosen by the server")
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return b, badRequest(err)
	}
	return b, nil
}

type feedbackBody struct {
	OrderID string
	Email   string
	Rating  int
}

func decodeFeedbackBody(r *http.Request) (feedbackBody, error) {
	var b feedbackBody
	d, err := readBody(r)
	if err != nil {
		return b, err
	}
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "orderId":
			err = decodeStr(d, &b.OrderID)
		case "email":
			err = decodeStr(d, &b.Email)
		case "rating":
			b.Rating, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return b, badRequest(err)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

// encodeDecisionFields writes the fields of d into an open object.
func encodeDecisionFields(e *jx.Encoder, d promo.Decision) {
	e.FieldStart("valid")
	e.Bool(d.Valid)
	e.FieldStart("code")
	e.Str(d.Code)
	e.FieldStart("namespace")
	e.Str(string(d.Namespace))
	if d.Reason != discount.ReasonNone {
		e.FieldStart("reason")
		e.Str(string(d.Reason))
	}
	e.FieldStart("message")
	e.Str(d.Message)
	if !d.Valid {
		return
	}

	e.FieldStart("type")
	e.Str(string(d.Type))
	e.FieldStart("amount")
	e.Int64(d.Amount)
	e.FieldStart("freeShipping")
	e.Bool(d.FreeShipping)
	e.FieldStart("summary")
	e.Str(d.Summary())
	if d.Name != "" {
		e.FieldStart("name")
		e.Str(d.Name)
	}
	if d.GrantedQuantity > 0 {
		e.FieldStart("grantedSku")
		e.Str(d.GrantedSKU)
		e.FieldStart("grantedQuantity")
		e.Int(d.GrantedQuantity)
	}
	if d.Namespace == promo.NamespaceCatalog {
		e.FieldStart("priority")
		e.Int(d.Priority)
		e.FieldStart("stackable")
		e.Bool(d.Stackable)
		e.FieldStart("rules")
		e.ArrStart()
		for _, c := range d.Rules {
			encodeContribution(e, c)
		}
		e.ArrEnd()
	}
	if len(d.FreeItems) > 0 {
		e.FieldStart("freeItems")
		e.ArrStart()
		for _, it := range d.FreeItems {
			encodeFreeItem(e, it)
		}
		e.ArrEnd()
	}
}

func encodeContribution(e *jx.Encoder, c discount.Contribution) {
	e.ObjStart()
	e.FieldStart("ruleId")
	e.Str(c.RuleID)
	e.FieldStart("type")
	e.Str(string(c.Type))
	e.FieldStart("amount")
	e.Int64(c.Amount)
	e.FieldStart("freeShipping")
	e.Bool(c.FreeShipping)
	e.ObjEnd()
}

func encodeFreeItem(e *jx.Encoder, it discount.FreeItem) {
	e.ObjStart()
	e.FieldStart("sku")
	e.Str(it.SKU)
	e.FieldStart("quantity")
	e.Int(it.Quantity)
	e.FieldStart("value")
	e.Int64(it.Value)
	e.FieldStart("discountPct")
	e.Str(it.DiscountPct.String())
	e.ObjEnd()
}

func encodeDecision(e *jx.Encoder, d promo.Decision) {
	e.ObjStart()
	encodeDecisionFields(e, d)
	e.ObjEnd()
}

func encodeSelection(e *jx.Encoder, s promo.Selection) {
	e.ObjStart()
	e.FieldStart("decisions")
	e.ArrStart()
	for _, d := range s.Decisions {
		e.ObjStart()
		encodeDecisionFields(e, d)
		e.FieldStart("applied")
		e.Bool(d.Applied)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Int64(s.Total)
	e.FieldStart("freeShipping")
	e.Bool(s.FreeShipping)
	e.ObjEnd()
}

func encodeRedemption(e *jx.Encoder, r promo.Redemption) {
	e.ObjStart()
	encodeDecisionFields(e, r.Decision)
	e.FieldStart("orderId")
	e.Str(r.OrderID)
	if r.Valid {
		e.FieldStart("redeemedAt")
		encodeTime(e, r.RedeemedAt)
	}
	e.ObjEnd()
}

// encodeDrawResult writes r. withEmail is false for lookups by code, which
// anyone holding the code may perform.
func encodeDrawResult(e *jx.Encoder, r *spin.DrawResult, withEmail bool) {
	e.ObjStart()
	if r.Entry != nil {
		e.FieldStart("code")
		e.Str(r.Entry.Code)
		if withEmail {
			e.FieldStart("email")
			e.Str(r.Entry.Email)
		}
		e.FieldStart("expiresAt")
		encodeTime(e, r.Entry.ExpiresAt)
	}
	e.FieldStart("prize")
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.Prize.ID)
	e.FieldStart("name")
	e.Str(r.Prize.Name)
	e.FieldStart("description")
	e.Str(r.Prize.Description)
	e.ObjEnd()
	e.FieldStart("alreadySpun")
	e.Bool(r.AlreadySpun)
	e.FieldStart("used")
	e.Bool(r.Used)
	e.FieldStart("expired")
	e.Bool(r.Expired)
	if r.Message != "" {
		e.FieldStart("message")
		e.Str(r.Message)
	}
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c *feedback.Coupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("orderId")
	e.Str(c.OrderID)
	e.FieldStart("percent")
	e.Int(feedback.Percent)
	e.FieldStart("used")
	e.Bool(c.Used)
	e.FieldStart("expiresAt")
	encodeTime(e, c.ExpiresAt)
	e.ObjEnd()
}

func encodeUsageStats(e *jx.Encoder, s *discount.UsageStats) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(s.Code)
	e.FieldStart("redemptions")
	e.Int(s.Redemptions)
	e.FieldStart("distinctEmails")
	e.Int(s.DistinctEmails)
	e.FieldStart("totalDiscount")
	e.Int64(s.TotalDiscount)
	e.FieldStart("lastRedeemedAt")
	if s.LastRedeemedAt != nil {
		encodeTime(e, *s.LastRedeemedAt)
	} else {
		e.Null()
	}
	e.ObjEnd()
}
