package fulfillment

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the fulfillment counters. A nil *Metrics is valid and
// records nothing, which keeps tests free of meter plumbing.
type Metrics struct {
	fulfilled metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics registers the fulfillment instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	fulfilled, err := meter.Int64Counter("autostars.orders.fulfilled",
		metric.WithDescription("Orders delivered successfully"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("autostars.orders.failed",
		metric.WithDescription("Purchase or transfer failures"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("autostars.purchase.duration",
		metric.WithDescription("End-to-end purchase duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{fulfilled: fulfilled, failed: failed, duration: duration}, nil
}

// Fulfilled records a successful delivery.
func (m *Metrics) Fulfilled(ctx context.Context) {
	if m == nil {
		return
	}
	m.fulfilled.Add(ctx, 1)
}

// Failed records a failed purchase attempt.
func (m *Metrics) Failed(ctx context.Context) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1)
}

// Observe records one purchase attempt's duration.
func (m *Metrics) Observe(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, d.Seconds())
}
