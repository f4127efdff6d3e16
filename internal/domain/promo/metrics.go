package promo

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	decisions   metric.Int64Counter
	redemptions metric.Int64Counter
	discounted  metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter("promo")
	var (
		m   metrics
		err error
	)
	if m.decisions, err = meter.Int64Counter("promo.decisions",
		metric.WithDescription("Validation decisions by namespace and reason"),
	); err != nil {
		return nil, errors.Wrap(err, "decisions counter")
	}
	if m.redemptions, err = meter.Int64Counter("promo.redemptions",
		metric.WithDescription("Redemption attempts by namespace and reason"),
	); err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}
	if m.discounted, err = meter.Int64Counter("promo.discounted",
		metric.WithDescription("Discount granted by committed redemptions"),
		metric.WithUnit("{cent}"),
	); err != nil {
		return nil, errors.Wrap(err, "discounted counter")
	}
	return &m, nil
}

func decisionAttrs(d Decision) metric.MeasurementOption {
	reason := string(d.Reason)
	if d.Valid {
		reason = "OK"
	}
	return metric.WithAttributes(
		attribute.String("namespace", string(d.Namespace)),
		attribute.String("reason", reason),
	)
}

func (m *metrics) decision(ctx context.Context, d Decision) {
	m.decisions.Add(ctx, 1, decisionAttrs(d))
}

func (m *metrics) redemption(ctx context.Context, d Decision) {
	attrs := decisionAttrs(d)
	m.redemptions.Add(ctx, 1, attrs)
	if d.Valid && d.Amount > 0 {
		m.discounted.Add(ctx, d.Amount, attrs)
	}
}
