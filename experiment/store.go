package experiment

import (
	"context"

	"github.com/basedlsg/Car-Dream/id"
)

// ListOpts filters and paginates experiment listings.
type ListOpts struct {
	Phase  Phase
	Limit  int
	Offset int
}

// Store is the persistence port for experiment records. One orchestrator
// instance is the only writer for a given experiment while it is in
// flight, so implementations need no per-record write coordination
// beyond basic atomicity.
type Store interface {
	// CreateExperiment persists a new experiment record.
	// Returns cardream.ErrExperimentAlreadyExists on duplicate IDs.
	CreateExperiment(ctx context.Context, exp *Experiment) error

	// GetExperiment retrieves an experiment by ID.
	// Returns cardream.ErrExperimentNotFound if absent.
	GetExperiment(ctx context.Context, expID id.ExperimentID) (*Experiment, error)

	// ListExperiments returns experiments matching the given options.
	ListExperiments(ctx context.Context, opts ListOpts) ([]*Experiment, error)

	// GetConfig returns the stored config for an experiment.
	GetConfig(ctx context.Context, expID id.ExperimentID) (*Config, error)

	// UpdatePhase durably records a phase transition. Called before the
	// phase body runs so a crash leaves the persisted phase unambiguous.
	UpdatePhase(ctx context.Context, expID id.ExperimentID, phase Phase) error

	// UpdateProgress records fractional progress in [0,1].
	UpdateProgress(ctx context.Context, expID id.ExperimentID, progress float64) error

	// UpdateResult stores the processed outcome of a run.
	UpdateResult(ctx context.Context, expID id.ExperimentID, result *Result) error

	// Fail marks the experiment Failed with a human-readable message.
	Fail(ctx context.Context, expID id.ExperimentID, msg string) error

	// StoreMetrics merges numeric metrics into the record, last value
	// wins per key.
	StoreMetrics(ctx context.Context, expID id.ExperimentID, metrics map[string]float64) error

	// StoreArtifact appends an artifact reference.
	StoreArtifact(ctx context.Context, expID id.ExperimentID, ref string) error

	// StoreSummary replaces the free-form summary.
	StoreSummary(ctx context.Context, expID id.ExperimentID, summary map[string]any) error
}
