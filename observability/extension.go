package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/ext"
	"github.com/basedlsg/Car-Dream/fault"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.ExperimentStarted   = (*MetricsExtension)(nil)
	_ ext.PhaseCompleted      = (*MetricsExtension)(nil)
	_ ext.PhaseFailed         = (*MetricsExtension)(nil)
	_ ext.RecoveryAttempted   = (*MetricsExtension)(nil)
	_ ext.ExperimentCompleted = (*MetricsExtension)(nil)
	_ ext.ExperimentFailed    = (*MetricsExtension)(nil)
	_ ext.ExperimentCancelled = (*MetricsExtension)(nil)
)

// MetricsExtension records engine-wide lifecycle metrics. Register it
// on the extension registry to track submission rates, terminal
// outcomes, per-phase failures, and recovery effectiveness.
type MetricsExtension struct {
	started    metric.Int64Counter
	completed  metric.Int64Counter
	failed     metric.Int64Counter
	cancelled  metric.Int64Counter
	phaseDone  metric.Int64Counter
	phaseFail  metric.Int64Counter
	recoveries metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global meter
// provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter("cardream/observability"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Tests pass a meter backed by a manual reader.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	started, _ := meter.Int64Counter("cardream.experiment.started",
		metric.WithDescription("Experiments accepted for execution"))
	completed, _ := meter.Int64Counter("cardream.experiment.completed",
		metric.WithDescription("Experiments finished successfully"))
	failed, _ := meter.Int64Counter("cardream.experiment.failed",
		metric.WithDescription("Experiments failed terminally"))
	cancelled, _ := meter.Int64Counter("cardream.experiment.cancelled",
		metric.WithDescription("Experiments cancelled by a caller"))
	phaseDone, _ := meter.Int64Counter("cardream.phase.completed",
		metric.WithDescription("Phase completions by phase"))
	phaseFail, _ := meter.Int64Counter("cardream.phase.failed",
		metric.WithDescription("Phase failures by phase"))
	recoveries, _ := meter.Int64Counter("cardream.recovery.attempts",
		metric.WithDescription("Recovery attempts by kind, strategy, and outcome"))
	duration, _ := meter.Float64Histogram("cardream.experiment.duration",
		metric.WithDescription("Completed experiment wall time"),
		metric.WithUnit("s"))

	return &MetricsExtension{
		started:    started,
		completed:  completed,
		failed:     failed,
		cancelled:  cancelled,
		phaseDone:  phaseDone,
		phaseFail:  phaseFail,
		recoveries: recoveries,
		duration:   duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnExperimentStarted implements ext.ExperimentStarted.
func (m *MetricsExtension) OnExperimentStarted(ctx context.Context, _ *experiment.Experiment) error {
	m.started.Add(ctx, 1)
	return nil
}

// OnPhaseCompleted implements ext.PhaseCompleted.
func (m *MetricsExtension) OnPhaseCompleted(ctx context.Context, _ *experiment.Experiment, phase experiment.Phase, _ time.Duration) error {
	m.phaseDone.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(phase)),
	))
	return nil
}

// OnPhaseFailed implements ext.PhaseFailed.
func (m *MetricsExtension) OnPhaseFailed(ctx context.Context, _ *experiment.Experiment, phase experiment.Phase, _ error) error {
	m.phaseFail.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(phase)),
	))
	return nil
}

// OnRecoveryAttempted implements ext.RecoveryAttempted.
func (m *MetricsExtension) OnRecoveryAttempted(ctx context.Context, rec *fault.Record) error {
	m.recoveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(rec.Kind)),
		attribute.String("strategy", rec.RecoveryStrategy),
		attribute.Bool("succeeded", rec.RecoverySucceeded),
	))
	return nil
}

// OnExperimentCompleted implements ext.ExperimentCompleted.
func (m *MetricsExtension) OnExperimentCompleted(ctx context.Context, _ *experiment.Experiment, elapsed time.Duration) error {
	m.completed.Add(ctx, 1)
	m.duration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnExperimentFailed implements ext.ExperimentFailed.
func (m *MetricsExtension) OnExperimentFailed(ctx context.Context, _ *experiment.Experiment, _ error) error {
	m.failed.Add(ctx, 1)
	return nil
}

// OnExperimentCancelled implements ext.ExperimentCancelled.
func (m *MetricsExtension) OnExperimentCancelled(ctx context.Context, _ *experiment.Experiment) error {
	m.cancelled.Add(ctx, 1)
	return nil
}
