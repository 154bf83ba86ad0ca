// Package audit is an engine extension that bridges lifecycle events to
// an immutable audit trail backend.
//
// Every experiment, phase, and recovery lifecycle hook emits a structured
// audit event through the [Recorder] interface. The extension assigns
// appropriate severity levels (info for normal operations, warning for
// recoverable phase failures, critical for terminal failures) and rich
// metadata (experiment name, phase, elapsed time, errors).
//
// # Usage
//
//	audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	    return trail.Append(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionExperimentFailed,
//	        audit.ActionExperimentCancelled,
//	        audit.ActionRecoveryAttempted,
//	    ),
//	)
package audit
