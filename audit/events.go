package audit

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionExperimentStarted   = "experiment.started"
	ActionPhaseStarted        = "phase.started"
	ActionPhaseCompleted      = "phase.completed"
	ActionPhaseFailed         = "phase.failed"
	ActionRecoveryAttempted   = "recovery.attempted"
	ActionExperimentCompleted = "experiment.completed"
	ActionExperimentFailed    = "experiment.failed"
	ActionExperimentCancelled = "experiment.cancelled"
)

// Audit event categories group related actions.
const (
	CategoryExperiment = "cardream.experiment"
	CategoryPhase      = "cardream.phase"
	CategoryRecovery   = "cardream.recovery"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceExperiment = "experiment"
	ResourceFault      = "fault_record"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionExperimentStarted,
		ActionPhaseStarted,
		ActionPhaseCompleted,
		ActionPhaseFailed,
		ActionRecoveryAttempted,
		ActionExperimentCompleted,
		ActionExperimentFailed,
		ActionExperimentCancelled,
	}
}
