package promo

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/feedback"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/spin"
)

var (
	// ErrOrderRequired is returned by Redeem when no order id is given.
	ErrOrderRequired = errors.New("order id is required")
	// ErrInvalidCart is returned when a cart line has a non-positive
	// quantity or a negative price, or the subtotal overflows.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrInvalidRequest is returned for a negative prior order count or
	// amount cap.
	ErrInvalidRequest = errors.New("invalid request")
)

// Validator decides codes of one namespace.
type Validator interface {
	Namespace() Namespace
	// Validate is side-effect free.
	Validate(ctx context.Context, req Request) (Decision, error)
	// Redeem consumes the code for orderID. At most one call per resource
	// observes a valid decision.
	Redeem(ctx context.Context, req Request, orderID string) (Decision, error)
}

type route struct {
	prefix string
	v      Validator
}

// Service is the single entry point for validating and redeeming codes of
// every namespace.
type Service struct {
	routes    []route
	catalog   Validator
	stats     discount.Store
	publisher Publisher
	metrics   *metrics
	tracer    trace.Tracer
	now       func() time.Time
}

type options struct {
	now            func() time.Time
	publisher      Publisher
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// Option configures a Service.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithPublisher sets where redemption events go. A nil p drops them.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// New creates a Service over the three namespace stores.
func New(
	catalog discount.Store,
	spins spin.Store,
	coupons feedback.Store,
	history order.History,
	opts ...Option,
) (*Service, error) {
	o := options{
		now:            time.Now,
		publisher:      nopPublisher{},
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := newMetrics(o.meterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}

	return &Service{
		routes: []route{
			{prefix: spin.CodePrefix, v: &spinValidator{store: spins, now: o.now}},
			{prefix: feedback.CodePrefix, v: &feedbackValidator{store: coupons, now: o.now}},
		},
		catalog:   &catalogValidator{store: catalog, history: history, now: o.now},
		stats:     catalog,
		publisher: o.publisher,
		metrics:   m,
		tracer:    o.tracerProvider.Tracer("promo"),
		now:       o.now,
	}, nil
}

// Resolve returns the validator responsible for a normalized code.
func (s *Service) Resolve(code string) Validator {
	for _, r := range s.routes {
		if strings.HasPrefix(code, r.prefix) {
			return r.v
		}
	}
	return s.catalog
}

// Validate previews code against the cart without consuming it.
func (s *Service) Validate(ctx context.Context, req Request) (Decision, error) {
	req, err := normalize(req)
	if err != nil {
		return Decision{}, err
	}
	return s.validate(ctx, req)
}

func (s *Service) validate(ctx context.Context, req Request) (Decision, error) {
	v := s.Resolve(req.Code)
	if req.Code == "" {
		return reject(v.Namespace(), "", discount.ReasonNotFound), nil
	}

	ctx, span := s.tracer.Start(ctx, "promo.Validate", trace.WithAttributes(
		attribute.String("promo.namespace", string(v.Namespace())),
	))
	defer span.End()

	d, err := v.Validate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validate")
		return Decision{}, errors.Wrapf(err, "validate %s code", v.Namespace())
	}
	s.metrics.decision(ctx, d)
	if !d.Valid {
		zctx.From(ctx).Debug("Code rejected",
			zap.String("code", d.Code),
			zap.String("namespace", string(d.Namespace)),
			zap.String("reason", string(d.Reason)),
		)
	}
	return d, nil
}

// ValidateAll previews several codes for one order and selects the set that
// applies together. Valid codes left out of the set are reported as
// SUPERSEDED. Spin and feedback codes compete as non-stackable codes of
// priority zero.
func (s *Service) ValidateAll(ctx context.Context, codes []string, req Request) (Selection, error) {
	req, err := normalize(req)
	if err != nil {
		return Selection{}, err
	}

	var (
		sel   Selection
		seen  = make(map[string]struct{}, len(codes))
		cands []discount.Candidate
		index []int
	)
	for _, raw := range codes {
		code := discount.NormalizeCode(raw)
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}

		r := req
		r.Code = code
		d, err := s.validate(ctx, r)
		if err != nil {
			return Selection{}, err
		}
		sel.Decisions = append(sel.Decisions, d)
		if !d.Valid {
			continue
		}
		cands = append(cands, discount.Candidate{
			Code:      d.Code,
			Priority:  d.Priority,
			Stackable: d.Namespace == NamespaceCatalog && d.Stackable,
			Amount:    d.Amount,
		})
		index = append(index, len(sel.Decisions)-1)
	}

	applied := make(map[int]int64, len(cands))
	for _, a := range discount.Combine(cands, req.Cart.Subtotal()) {
		applied[index[a.Index]] = a.Amount
	}
	for _, i := range index {
		d := &sel.Decisions[i]
		amount, ok := applied[i]
		if !ok {
			*d = reject(d.Namespace, d.Code, discount.ReasonSuperseded)
			continue
		}
		d.Applied = true
		d.Amount = amount
		sel.Total += amount
		sel.FreeShipping = sel.FreeShipping || d.FreeShipping
	}
	return sel, nil
}

// Redeem consumes code for orderID. Business rejections, including a lost
// race, come back as an invalid decision with a nil error.
func (s *Service) Redeem(ctx context.Context, req Request, orderID string) (Redemption, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Redemption{}, ErrOrderRequired
	}
	req, err := normalize(req)
	if err != nil {
		return Redemption{}, err
	}

	v := s.Resolve(req.Code)
	lg := zctx.From(ctx).With(
		zap.String("code", req.Code),
		zap.String("namespace", string(v.Namespace())),
		zap.String("order_id", orderID),
	)
	if req.Code == "" {
		return Redemption{Decision: reject(v.Namespace(), "", discount.ReasonNotFound), OrderID: orderID}, nil
	}

	ctx, span := s.tracer.Start(ctx, "promo.Redeem", trace.WithAttributes(
		attribute.String("promo.namespace", string(v.Namespace())),
	))
	defer span.End()

	d, err := v.Redeem(ctx, req, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redeem")
		lg.Error("Redemption failed", zap.Error(err))
		return Redemption{}, errors.Wrapf(err, "redeem %s code", v.Namespace())
	}
	if d.Valid {
		d = capAmount(d, req.MaxAmount)
	}
	s.metrics.redemption(ctx, d)

	r := Redemption{Decision: d, OrderID: orderID}
	if !d.Valid {
		lg.Info("Redemption rejected", zap.String("reason", string(d.Reason)))
		return r, nil
	}
	r.RedeemedAt = s.now()
	lg.Info("Code redeemed", zap.Int64("amount", d.Amount), zap.Bool("free_shipping", d.FreeShipping))

	if err := s.publisher.Publish(ctx, newEvent(r, req)); err != nil {
		lg.Warn("Publish redemption event", zap.Error(err))
	}
	return r, nil
}

// UsageStats reports the redemption history of a catalog code.
func (s *Service) UsageStats(ctx context.Context, code string) (*discount.UsageStats, error) {
	return s.stats.UsageStats(ctx, discount.NormalizeCode(code))
}

func normalize(req Request) (Request, error) {
	req.Code = discount.NormalizeCode(req.Code)
	req.Email = discount.NormalizeEmail(req.Email)
	if req.PriorOrders != nil && *req.PriorOrders < 0 {
		return req, errors.Wrap(ErrInvalidRequest, "negative prior order count")
	}
	if req.MaxAmount != nil && *req.MaxAmount < 0 {
		return req, errors.Wrap(ErrInvalidRequest, "negative amount cap")
	}

	var subtotal int64
	for _, it := range req.Cart.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return req, errors.Wrapf(ErrInvalidCart, "line %q", it.SKU)
		}
		// Reject lines whose total would wrap the int64 subtotal.
		if it.UnitPrice > 0 && int64(it.Quantity) > (math.MaxInt64-subtotal)/it.UnitPrice {
			return req, errors.Wrapf(ErrInvalidCart, "line %q: subtotal overflow", it.SKU)
		}
		subtotal += int64(it.Quantity) * it.UnitPrice
	}
	return req, nil
}

// capAmount lowers a decision's amount to limit when limit is set.
func capAmount(d Decision, limit *int64) Decision {
	if limit != nil && d.Amount > *limit {
		d.Amount = *limit
	}
	return d
}
