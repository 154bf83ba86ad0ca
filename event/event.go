// Package event provides lifecycle notifications for experiments.
// The orchestrator publishes an event at every phase transition and
// error; publishing is fire-and-forget and never blocks a workflow.
package event

import (
	"time"

	"github.com/basedlsg/Car-Dream/id"
)

// Event kinds emitted by the engine.
const (
	KindExperimentSubmitted = "experiment_submitted"
	KindPhaseStarted        = "phase_started"
	KindPhaseCompleted      = "phase_completed"
	KindPhaseFailed         = "phase_failed"
	KindRecoveryAttempted   = "recovery_attempted"
	KindExperimentCompleted = "experiment_completed"
	KindExperimentFailed    = "experiment_failed"
	KindExperimentCancelled = "experiment_cancelled"
)

// Event is one lifecycle notification for an experiment.
type Event struct {
	ID           id.EventID      `json:"id"`
	ExperimentID id.ExperimentID `json:"experiment_id"`
	Kind         string          `json:"kind"`
	Payload      map[string]any  `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// New creates an event with a fresh ID and timestamp.
func New(expID id.ExperimentID, kind string, payload map[string]any) *Event {
	return &Event{
		ID:           id.NewEventID(),
		ExperimentID: expID,
		Kind:         kind,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
}
