// Package ext defines the extension system for the engine.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnExperimentCompleted(ctx context.Context, exp *experiment.Experiment, elapsed time.Duration) error {
//	    log.Printf("experiment %s completed in %s", exp.ID, elapsed)
//	    return nil
//	}
//
// # Experiment Lifecycle Hooks
//
//   - [ExperimentStarted] — workflow began running
//   - [PhaseStarted] — a workflow phase began
//   - [PhaseCompleted] — a phase finished successfully
//   - [PhaseFailed] — a phase failed (recovery may still retry it)
//   - [RecoveryAttempted] — the dispatcher ran a recovery strategy
//   - [ExperimentCompleted] — experiment finished successfully
//   - [ExperimentFailed] — experiment failed terminally
//   - [ExperimentCancelled] — experiment was cancelled by a caller
//
// # Other Hooks
//
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
