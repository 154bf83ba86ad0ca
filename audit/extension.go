package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/ext"
	"github.com/basedlsg/Car-Dream/fault"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.ExperimentStarted   = (*Extension)(nil)
	_ ext.PhaseStarted        = (*Extension)(nil)
	_ ext.PhaseCompleted      = (*Extension)(nil)
	_ ext.PhaseFailed         = (*Extension)(nil)
	_ ext.RecoveryAttempted   = (*Extension)(nil)
	_ ext.ExperimentCompleted = (*Extension)(nil)
	_ ext.ExperimentFailed    = (*Extension)(nil)
	_ ext.ExperimentCancelled = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so that the audit package does not import any
// particular trail backend — callers inject the concrete recorder at
// wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// Event is a local representation of an audit event. Callers provide a
// RecorderFunc adapter that bridges to their audit backend.
type Event struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges engine lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-trail" }

// ── Experiment lifecycle hooks ──────────────────────

// OnExperimentStarted implements ext.ExperimentStarted.
func (e *Extension) OnExperimentStarted(ctx context.Context, exp *experiment.Experiment) error {
	return e.record(ctx, ActionExperimentStarted, SeverityInfo, OutcomeSuccess,
		ResourceExperiment, exp.ID.String(), CategoryExperiment, nil,
		"experiment_name", exp.Name,
		"route", exp.Config.Scenario.Route,
	)
}

// OnExperimentCompleted implements ext.ExperimentCompleted.
func (e *Extension) OnExperimentCompleted(ctx context.Context, exp *experiment.Experiment, elapsed time.Duration) error {
	return e.record(ctx, ActionExperimentCompleted, SeverityInfo, OutcomeSuccess,
		ResourceExperiment, exp.ID.String(), CategoryExperiment, nil,
		"experiment_name", exp.Name,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnExperimentFailed implements ext.ExperimentFailed.
func (e *Extension) OnExperimentFailed(ctx context.Context, exp *experiment.Experiment, expErr error) error {
	return e.record(ctx, ActionExperimentFailed, SeverityCritical, OutcomeFailure,
		ResourceExperiment, exp.ID.String(), CategoryExperiment, expErr,
		"experiment_name", exp.Name,
		"phase", string(exp.Phase),
	)
}

// OnExperimentCancelled implements ext.ExperimentCancelled.
func (e *Extension) OnExperimentCancelled(ctx context.Context, exp *experiment.Experiment) error {
	return e.record(ctx, ActionExperimentCancelled, SeverityWarning, OutcomeFailure,
		ResourceExperiment, exp.ID.String(), CategoryExperiment, nil,
		"experiment_name", exp.Name,
	)
}

// ── Phase lifecycle hooks ───────────────────────────

// OnPhaseStarted implements ext.PhaseStarted.
func (e *Extension) OnPhaseStarted(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase) error {
	return e.record(ctx, ActionPhaseStarted, SeverityInfo, OutcomeSuccess,
		ResourceExperiment, exp.ID.String(), CategoryPhase, nil,
		"experiment_name", exp.Name,
		"phase", string(phase),
	)
}

// OnPhaseCompleted implements ext.PhaseCompleted.
func (e *Extension) OnPhaseCompleted(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase, elapsed time.Duration) error {
	return e.record(ctx, ActionPhaseCompleted, SeverityInfo, OutcomeSuccess,
		ResourceExperiment, exp.ID.String(), CategoryPhase, nil,
		"experiment_name", exp.Name,
		"phase", string(phase),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnPhaseFailed implements ext.PhaseFailed.
func (e *Extension) OnPhaseFailed(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase, phaseErr error) error {
	return e.record(ctx, ActionPhaseFailed, SeverityWarning, OutcomeFailure,
		ResourceExperiment, exp.ID.String(), CategoryPhase, phaseErr,
		"experiment_name", exp.Name,
		"phase", string(phase),
	)
}

// ── Recovery lifecycle hooks ────────────────────────

// OnRecoveryAttempted implements ext.RecoveryAttempted.
func (e *Extension) OnRecoveryAttempted(ctx context.Context, rec *fault.Record) error {
	severity := SeverityWarning
	outcome := OutcomeSuccess
	if !rec.RecoverySucceeded {
		severity = SeverityCritical
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionRecoveryAttempted, severity, outcome,
		ResourceFault, rec.ID.String(), CategoryRecovery, nil,
		"experiment_id", rec.ExperimentID.String(),
		"kind", string(rec.Kind),
		"strategy", rec.RecoveryStrategy,
		"succeeded", rec.RecoverySucceeded,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
