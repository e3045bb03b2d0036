package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "siem-detect/engine"

// Metrics holds the engine's counters. Instruments come from the global meter
// provider, which is a no-op until the process installs one.
type Metrics struct {
	evaluations   metric.Int64Counter
	matches       metric.Int64Counter
	alerts        metric.Int64Counter
	signals       metric.Int64Counter
	ruleErrors    metric.Int64Counter
	filterErrors  metric.Int64Counter
	droppedEvents metric.Int64Counter
}

// NewMetrics creates the engine instruments on the global meter.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates the engine instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	evaluations, _ := meter.Int64Counter(
		"siem_detect_evaluations_total",
		metric.WithDescription("Rule evaluations that passed the filter chain"),
	)
	matches, _ := meter.Int64Counter(
		"siem_detect_matches_total",
		metric.WithDescription("Rule evaluations that matched"),
	)
	alerts, _ := meter.Int64Counter(
		"siem_detect_alerts_total",
		metric.WithDescription("Alerts emitted after thresholding and dedup"),
	)
	signals, _ := meter.Int64Counter(
		"siem_detect_signals_total",
		metric.WithDescription("Threshold crossings by rules that do not create alerts"),
	)
	ruleErrors, _ := meter.Int64Counter(
		"siem_detect_rule_errors_total",
		metric.WithDescription("Rule function failures"),
	)
	filterErrors, _ := meter.Int64Counter(
		"siem_detect_filter_errors_total",
		metric.WithDescription("Include or exclude filter failures"),
	)
	droppedEvents, _ := meter.Int64Counter(
		"siem_detect_dropped_events_total",
		metric.WithDescription("Events dropped because the queue was full"),
	)

	return &Metrics{
		evaluations:   evaluations,
		matches:       matches,
		alerts:        alerts,
		signals:       signals,
		ruleErrors:    ruleErrors,
		filterErrors:  filterErrors,
		droppedEvents: droppedEvents,
	}
}

func ruleAttr(ruleID string) metric.AddOption {
	return metric.WithAttributes(attribute.String("rule_id", ruleID))
}

func (m *Metrics) recordEvaluation(ctx context.Context, ruleID string, matched bool) {
	if m == nil || m.evaluations == nil {
		return
	}
	m.evaluations.Add(ctx, 1, ruleAttr(ruleID))
	if matched {
		m.matches.Add(ctx, 1, ruleAttr(ruleID))
	}
}

func (m *Metrics) recordAlert(ctx context.Context, ruleID string) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.Add(ctx, 1, ruleAttr(ruleID))
}

func (m *Metrics) recordSignal(ctx context.Context, ruleID string) {
	if m == nil || m.signals == nil {
		return
	}
	m.signals.Add(ctx, 1, ruleAttr(ruleID))
}

func (m *Metrics) recordRuleErrors(ctx context.Context, ruleID string, n int) {
	if m == nil || m.ruleErrors == nil || n == 0 {
		return
	}
	m.ruleErrors.Add(ctx, int64(n), ruleAttr(ruleID))
}

func (m *Metrics) recordFilterError(ctx context.Context, ruleID string) {
	if m == nil || m.filterErrors == nil {
		return
	}
	m.filterErrors.Add(ctx, 1, ruleAttr(ruleID))
}

func (m *Metrics) recordDrop(ctx context.Context) {
	if m == nil || m.droppedEvents == nil {
		return
	}
	m.droppedEvents.Add(ctx, 1)
}
