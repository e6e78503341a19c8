package hook

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/operation"
)

// Compile-time interface checks.
var (
	_ Extension       = (*MetricsExtension)(nil)
	_ BranchSucceeded = (*MetricsExtension)(nil)
	_ BranchFailed    = (*MetricsExtension)(nil)
	_ BranchSkipped   = (*MetricsExtension)(nil)
	_ RunCompleted    = (*MetricsExtension)(nil)
	_ TriggerFired    = (*MetricsExtension)(nil)
)

// MetricsExtension records per-outcome branch transition counters via
// OpenTelemetry. Register it to track succeeded, failed, and skipped rates
// per job kind, branch run durations, and trigger fires.
type MetricsExtension struct {
	branchSucceeded metric.Int64Counter
	branchFailed    metric.Int64Counter
	branchSkipped   metric.Int64Counter
	runCompleted    metric.Int64Counter
	triggerFired    metric.Int64Counter
	branchDuration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithMeter(otel.GetMeterProvider().Meter("github.com/oryxerp/branchrun"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use it when the application wires its own MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) (*MetricsExtension, error) {
	m := &MetricsExtension{}

	var err error
	if m.branchSucceeded, err = meter.Int64Counter("branchrun.branch.succeeded"); err != nil {
		return nil, fmt.Errorf("hook: create counter: %w", err)
	}
	if m.branchFailed, err = meter.Int64Counter("branchrun.branch.failed"); err != nil {
		return nil, fmt.Errorf("hook: create counter: %w", err)
	}
	if m.branchSkipped, err = meter.Int64Counter("branchrun.branch.skipped"); err != nil {
		return nil, fmt.Errorf("hook: create counter: %w", err)
	}
	if m.runCompleted, err = meter.Int64Counter("branchrun.run.completed"); err != nil {
		return nil, fmt.Errorf("hook: create counter: %w", err)
	}
	if m.triggerFired, err = meter.Int64Counter("branchrun.trigger.fired"); err != nil {
		return nil, fmt.Errorf("hook: create counter: %w", err)
	}
	if m.branchDuration, err = meter.Float64Histogram("branchrun.branch.duration_seconds"); err != nil {
		return nil, fmt.Errorf("hook: create histogram: %w", err)
	}

	return m, nil
}

// Name implements Extension.
func (m *MetricsExtension) Name() string { return "metrics" }

func kindAttr(kind branchrun.JobKind) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_kind", string(kind)))
}

// OnBranchSucceeded implements BranchSucceeded.
func (m *MetricsExtension) OnBranchSucceeded(ctx context.Context, kind branchrun.JobKind, _ *branch.Branch, _ string, _ *operation.Result, elapsed time.Duration) error {
	m.branchSucceeded.Add(ctx, 1, kindAttr(kind))
	m.branchDuration.Record(ctx, elapsed.Seconds(), kindAttr(kind))
	return nil
}

// OnBranchFailed implements BranchFailed.
func (m *MetricsExtension) OnBranchFailed(ctx context.Context, kind branchrun.JobKind, _ *branch.Branch, _ string, _ error) error {
	m.branchFailed.Add(ctx, 1, kindAttr(kind))
	return nil
}

// OnBranchSkipped implements BranchSkipped.
func (m *MetricsExtension) OnBranchSkipped(ctx context.Context, kind branchrun.JobKind, _ *branch.Branch, _ string, reason SkipReason) error {
	m.branchSkipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_kind", string(kind)),
		attribute.String("reason", string(reason)),
	))
	return nil
}

// OnRunCompleted implements RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, kind branchrun.JobKind, _ string, _, _, _ int) error {
	m.runCompleted.Add(ctx, 1, kindAttr(kind))
	return nil
}

// OnTriggerFired implements TriggerFired.
func (m *MetricsExtension) OnTriggerFired(ctx context.Context, _ string, kind branchrun.JobKind) error {
	m.triggerFired.Add(ctx, 1, kindAttr(kind))
	return nil
}
