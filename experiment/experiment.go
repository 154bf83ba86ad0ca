package experiment

import (
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/id"
)

// Phase is one ordered stage of an experiment's lifecycle.
type Phase string

// Phases in required order, plus the terminal states.
const (
	PhaseInitialization   Phase = "initialization"
	PhaseBackendSetup     Phase = "backend_setup"
	PhaseModelSetup       Phase = "model_setup"
	PhaseExecution        Phase = "execution"
	PhaseResultProcessing Phase = "result_processing"
	PhaseCleanup          Phase = "cleanup"
	PhaseCompleted        Phase = "completed"
	PhaseFailed           Phase = "failed"
	PhaseCancelled        Phase = "cancelled"
)

// Terminal reports whether the phase is a terminal state.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Next returns the phase that follows p on the success path.
// Terminal phases and Cleanup map to Completed.
func (p Phase) Next() Phase {
	switch p {
	case PhaseInitialization:
		return PhaseBackendSetup
	case PhaseBackendSetup:
		return PhaseModelSetup
	case PhaseModelSetup:
		return PhaseExecution
	case PhaseExecution:
		return PhaseResultProcessing
	case PhaseResultProcessing:
		return PhaseCleanup
	default:
		return PhaseCompleted
	}
}

// Result is the processed outcome of a completed run.
type Result struct {
	Steps          int     `json:"steps"`
	Collisions     int     `json:"collisions"`
	SafetyScore    float64 `json:"safety_score"`
	StepsPerSecond float64 `json:"steps_per_second"`

	// Incomplete marks a result derived from partial metrics.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Experiment is the persisted record of one run. The orchestrator is the
// only writer while the run is in flight.
type Experiment struct {
	cardream.Entity

	ID       id.ExperimentID `json:"id" bun:"id,pk"`
	Name     string          `json:"name" bun:"name,notnull"`
	Config   Config          `json:"config" bun:"config,type:jsonb"`
	Phase    Phase           `json:"phase" bun:"phase,notnull"`
	Progress float64         `json:"progress" bun:"progress"`
	Error    string          `json:"error,omitempty" bun:"error"`

	Metrics   map[string]float64 `json:"metrics,omitempty" bun:"metrics,type:jsonb"`
	Artifacts []string           `json:"artifacts,omitempty" bun:"artifacts,type:jsonb"`
	Summary   map[string]any     `json:"summary,omitempty" bun:"summary,type:jsonb"`
	Result    *Result            `json:"result,omitempty" bun:"result,type:jsonb"`

	StartedAt   time.Time  `json:"started_at" bun:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bun:"completed_at"`
}

// New creates an Experiment in the Initialization phase from a validated
// config.
func New(cfg Config) *Experiment {
	return &Experiment{
		Entity:    cardream.NewEntity(),
		ID:        id.NewExperimentID(),
		Name:      cfg.Name,
		Config:    cfg,
		Phase:     PhaseInitialization,
		StartedAt: time.Now().UTC(),
	}
}
