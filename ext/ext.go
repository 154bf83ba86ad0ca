package ext

import (
	"context"
	"time"

	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/fault"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Experiment lifecycle hooks
// ──────────────────────────────────────────────────

// ExperimentStarted is called when a workflow begins running.
type ExperimentStarted interface {
	OnExperimentStarted(ctx context.Context, exp *experiment.Experiment) error
}

// PhaseStarted is called when a workflow phase begins.
type PhaseStarted interface {
	OnPhaseStarted(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase) error
}

// PhaseCompleted is called after a phase finishes successfully.
type PhaseCompleted interface {
	OnPhaseCompleted(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase, elapsed time.Duration) error
}

// PhaseFailed is called when a phase fails. Recovery may still retry
// the phase afterwards.
type PhaseFailed interface {
	OnPhaseFailed(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase, err error) error
}

// RecoveryAttempted is called after the recovery dispatcher runs a
// strategy, whatever its outcome.
type RecoveryAttempted interface {
	OnRecoveryAttempted(ctx context.Context, rec *fault.Record) error
}

// ExperimentCompleted is called after an experiment finishes successfully.
type ExperimentCompleted interface {
	OnExperimentCompleted(ctx context.Context, exp *experiment.Experiment, elapsed time.Duration) error
}

// ExperimentFailed is called when an experiment fails terminally.
type ExperimentFailed interface {
	OnExperimentFailed(ctx context.Context, exp *experiment.Experiment, err error) error
}

// ExperimentCancelled is called when a caller cancels an experiment.
type ExperimentCancelled interface {
	OnExperimentCancelled(ctx context.Context, exp *experiment.Experiment) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
