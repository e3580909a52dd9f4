package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// Metrics groups the counters exported by the engagement core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	votes                  metric.Int64Counter
	reactions              metric.Int64Counter
	notificationsDelivered metric.Int64Counter
	notificationsFailed    metric.Int64Counter
	rateLimitRejected      metric.Int64Counter
	tasksDropped           metric.Int64Counter
}

// NewMetrics creates the counters on the global meter provider. Instruments that
// fail to register fall back to no-ops.
func NewMetrics() *Metrics {
	meter := otel.Meter(instrumentationName)
	fallback := metricnoop.NewMeterProvider().Meter(instrumentationName)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	return &Metrics{
		votes:                  counter("quorum_votes_total", "Vote state transitions by action"),
		reactions:              counter("quorum_reactions_total", "Reaction toggles by kind"),
		notificationsDelivered: counter("quorum_notifications_delivered_total", "Notification rows written"),
		notificationsFailed:    counter("quorum_notifications_failed_total", "Notification writes that failed"),
		rateLimitRejected:      counter("quorum_ratelimit_rejected_total", "Requests rejected by the rate limiter"),
		tasksDropped:           counter("quorum_dispatcher_dropped_total", "Background tasks dropped on a full queue"),
	}
}

func (m *Metrics) VoteApplied(ctx context.Context, kind, action string) {
	if m == nil {
		return
	}
	m.votes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target_kind", kind),
		attribute.String("action", action),
	))
}

func (m *Metrics) ReactionToggled(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.reactions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) NotificationsDelivered(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.notificationsDelivered.Add(ctx, int64(n))
}

func (m *Metrics) NotificationsFailed(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.notificationsFailed.Add(ctx, int64(n))
}

func (m *Metrics) RateLimited(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.rateLimitRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *Metrics) TaskDropped(ctx context.Context, task string) {
	if m == nil {
		return
	}
	m.tasksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}
