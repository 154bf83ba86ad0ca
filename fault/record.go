package fault

import (
	"context"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/id"
)

// Record is one append-only failure entry. RecoverySucceeded is written
// exactly once, when the recovery action finishes; nothing else is ever
// mutated.
type Record struct {
	cardream.Entity

	ID           id.FaultID      `json:"id"`
	ExperimentID id.ExperimentID `json:"experiment_id"`
	Kind         Kind            `json:"kind"`
	Message      string          `json:"message"`

	// Phase is the experiment phase in which the failure occurred.
	Phase string `json:"phase,omitempty"`

	RecoveryAttempted bool   `json:"recovery_attempted"`
	RecoveryStrategy  string `json:"recovery_strategy,omitempty"`
	RecoverySucceeded bool   `json:"recovery_succeeded"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewRecord creates a failure record with a fresh ID and timestamps.
func NewRecord(expID id.ExperimentID, kind Kind, msg string) *Record {
	return &Record{
		Entity:       cardream.NewEntity(),
		ID:           id.NewFaultID(),
		ExperimentID: expID,
		Kind:         kind,
		Message:      msg,
		OccurredAt:   time.Now().UTC(),
	}
}

// Store is the persistence port for failure records and recovery-attempt
// counters. Counters are keyed by (experiment, kind) and reset only when
// the experiment terminates.
type Store interface {
	// AppendRecord appends a failure record. Records for one experiment
	// are kept in append order.
	AppendRecord(ctx context.Context, rec *Record) error

	// UpdateRecoveryOutcome records the recovery action's own success or
	// failure onto an existing record, once.
	UpdateRecoveryOutcome(ctx context.Context, faultID id.FaultID, succeeded bool) error

	// ListRecords returns all records for an experiment in append order.
	ListRecords(ctx context.Context, expID id.ExperimentID) ([]*Record, error)

	// CountRecordsSince counts records across all experiments that
	// occurred at or after the cutoff. Used for the rolling error rate.
	CountRecordsSince(ctx context.Context, since time.Time) (int, error)

	// IncrementAttempts bumps the (experiment, kind) counter and returns
	// the new value.
	IncrementAttempts(ctx context.Context, expID id.ExperimentID, kind Kind) (int, error)

	// Attempts returns the current (experiment, kind) counter.
	Attempts(ctx context.Context, expID id.ExperimentID, kind Kind) (int, error)

	// ResetAttempts clears all counters for an experiment. Called when
	// the experiment reaches a terminal phase.
	ResetAttempts(ctx context.Context, expID id.ExperimentID) error
}
