package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/fault"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type experimentStartedEntry struct {
	name string
	hook ExperimentStarted
}

type phaseStartedEntry struct {
	name string
	hook PhaseStarted
}

type phaseCompletedEntry struct {
	name string
	hook PhaseCompleted
}

type phaseFailedEntry struct {
	name string
	hook PhaseFailed
}

type recoveryAttemptedEntry struct {
	name string
	hook RecoveryAttempted
}

type experimentCompletedEntry struct {
	name string
	hook ExperimentCompleted
}

type experimentFailedEntry struct {
	name string
	hook ExperimentFailed
}

type experimentCancelledEntry struct {
	name string
	hook ExperimentCancelled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	experimentStarted   []experimentStartedEntry
	phaseStarted        []phaseStartedEntry
	phaseCompleted      []phaseCompletedEntry
	phaseFailed         []phaseFailedEntry
	recoveryAttempted   []recoveryAttemptedEntry
	experimentCompleted []experimentCompletedEntry
	experimentFailed    []experimentFailedEntry
	experimentCancelled []experimentCancelledEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExperimentStarted); ok {
		r.experimentStarted = append(r.experimentStarted, experimentStartedEntry{name, h})
	}
	if h, ok := e.(PhaseStarted); ok {
		r.phaseStarted = append(r.phaseStarted, phaseStartedEntry{name, h})
	}
	if h, ok := e.(PhaseCompleted); ok {
		r.phaseCompleted = append(r.phaseCompleted, phaseCompletedEntry{name, h})
	}
	if h, ok := e.(PhaseFailed); ok {
		r.phaseFailed = append(r.phaseFailed, phaseFailedEntry{name, h})
	}
	if h, ok := e.(RecoveryAttempted); ok {
		r.recoveryAttempted = append(r.recoveryAttempted, recoveryAttemptedEntry{name, h})
	}
	if h, ok := e.(ExperimentCompleted); ok {
		r.experimentCompleted = append(r.experimentCompleted, experimentCompletedEntry{name, h})
	}
	if h, ok := e.(ExperimentFailed); ok {
		r.experimentFailed = append(r.experimentFailed, experimentFailedEntry{name, h})
	}
	if h, ok := e.(ExperimentCancelled); ok {
		r.experimentCancelled = append(r.experimentCancelled, experimentCancelledEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Experiment event emitters
// ──────────────────────────────────────────────────

// EmitExperimentStarted notifies all extensions that implement ExperimentStarted.
func (r *Registry) EmitExperimentStarted(ctx context.Context, exp *experiment.Experiment) {
	for _, e := range r.experimentStarted {
		if err := e.hook.OnExperimentStarted(ctx, exp); err != nil {
			r.logHookError("OnExperimentStarted", e.name, err)
		}
	}
}

// EmitPhaseStarted notifies all extensions that implement PhaseStarted.
func (r *Registry) EmitPhaseStarted(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase) {
	for _, e := range r.phaseStarted {
		if err := e.hook.OnPhaseStarted(ctx, exp, phase); err != nil {
			r.logHookError("OnPhaseStarted", e.name, err)
		}
	}
}

// EmitPhaseCompleted notifies all extensions that implement PhaseCompleted.
func (r *Registry) EmitPhaseCompleted(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase, elapsed time.Duration) {
	for _, e := range r.phaseCompleted {
		if err := e.hook.OnPhaseCompleted(ctx, exp, phase, elapsed); err != nil {
			r.logHookError("OnPhaseCompleted", e.name, err)
		}
	}
}

// EmitPhaseFailed notifies all extensions that implement PhaseFailed.
func (r *Registry) EmitPhaseFailed(ctx context.Context, exp *experiment.Experiment, phase experiment.Phase, phaseErr error) {
	for _, e := range r.phaseFailed {
		if err := e.hook.OnPhaseFailed(ctx, exp, phase, phaseErr); err != nil {
			r.logHookError("OnPhaseFailed", e.name, err)
		}
	}
}

// EmitRecoveryAttempted notifies all extensions that implement RecoveryAttempted.
func (r *Registry) EmitRecoveryAttempted(ctx context.Context, rec *fault.Record) {
	for _, e := range r.recoveryAttempted {
		if err := e.hook.OnRecoveryAttempted(ctx, rec); err != nil {
			r.logHookError("OnRecoveryAttempted", e.name, err)
		}
	}
}

// EmitExperimentCompleted notifies all extensions that implement ExperimentCompleted.
func (r *Registry) EmitExperimentCompleted(ctx context.Context, exp *experiment.Experiment, elapsed time.Duration) {
	for _, e := range r.experimentCompleted {
		if err := e.hook.OnExperimentCompleted(ctx, exp, elapsed); err != nil {
			r.logHookError("OnExperimentCompleted", e.name, err)
		}
	}
}

// EmitExperimentFailed notifies all extensions that implement ExperimentFailed.
func (r *Registry) EmitExperimentFailed(ctx context.Context, exp *experiment.Experiment, expErr error) {
	for _, e := range r.experimentFailed {
		if err := e.hook.OnExperimentFailed(ctx, exp, expErr); err != nil {
			r.logHookError("OnExperimentFailed", e.name, err)
		}
	}
}

// EmitExperimentCancelled notifies all extensions that implement ExperimentCancelled.
func (r *Registry) EmitExperimentCancelled(ctx context.Context, exp *experiment.Experiment) {
	for _, e := range r.experimentCancelled {
		if err := e.hook.OnExperimentCancelled(ctx, exp); err != nil {
			r.logHookError("OnExperimentCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block a workflow.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
