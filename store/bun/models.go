package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/event"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
	"github.com/basedlsg/Car-Dream/schedule"
)

// ── Experiment model ──────────────────────────────────────────────

type experimentModel struct {
	bun.BaseModel `bun:"table:cardream_experiments"`

	ID          string             `bun:"id,pk"`
	Name        string             `bun:"name,notnull"`
	Config      experiment.Config  `bun:"config,type:jsonb"`
	Phase       string             `bun:"phase,notnull"`
	Progress    float64            `bun:"progress,notnull,default:0"`
	Error       string             `bun:"error"`
	Metrics     map[string]float64 `bun:"metrics,type:jsonb"`
	Artifacts   []string           `bun:"artifacts,type:jsonb"`
	Summary     map[string]any     `bun:"summary,type:jsonb"`
	Result      *experiment.Result `bun:"result,type:jsonb"`
	StartedAt   time.Time          `bun:"started_at,notnull,default:current_timestamp"`
	CompletedAt *time.Time         `bun:"completed_at"`
	CreatedAt   time.Time          `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time          `bun:"updated_at,notnull,default:current_timestamp"`
}

func toExperimentModel(exp *experiment.Experiment) *experimentModel {
	return &experimentModel{
		ID:          exp.ID.String(),
		Name:        exp.Name,
		Config:      exp.Config,
		Phase:       string(exp.Phase),
		Progress:    exp.Progress,
		Error:       exp.Error,
		Metrics:     exp.Metrics,
		Artifacts:   exp.Artifacts,
		Summary:     exp.Summary,
		Result:      exp.Result,
		StartedAt:   exp.StartedAt,
		CompletedAt: exp.CompletedAt,
		CreatedAt:   exp.CreatedAt,
		UpdatedAt:   exp.UpdatedAt,
	}
}

func fromExperimentModel(m *experimentModel) (*experiment.Experiment, error) {
	parsedID, err := id.ParseExperimentID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: parse experiment id %q: %w", m.ID, err)
	}

	return &experiment.Experiment{
		Entity: cardream.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Name:        m.Name,
		Config:      m.Config,
		Phase:       experiment.Phase(m.Phase),
		Progress:    m.Progress,
		Error:       m.Error,
		Metrics:     m.Metrics,
		Artifacts:   m.Artifacts,
		Summary:     m.Summary,
		Result:      m.Result,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

// checkpointModel keeps one row per experiment: the primary key is the
// experiment ID, so a save replaces the previous snapshot.
type checkpointModel struct {
	bun.BaseModel `bun:"table:cardream_checkpoints"`

	ExperimentID string             `bun:"experiment_id,pk"`
	ID           string             `bun:"id,notnull"`
	Step         int                `bun:"step,notnull"`
	SimTime      float64            `bun:"sim_time,notnull,default:0"`
	Pose         checkpoint.Pose    `bun:"pose,type:jsonb"`
	Motion       checkpoint.Motion  `bun:"motion,type:jsonb"`
	Weather      string             `bun:"weather"`
	Traffic      checkpoint.Traffic `bun:"traffic,type:jsonb"`
	Sensors      []string           `bun:"sensors,type:jsonb"`
	CreatedAt    time.Time          `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time          `bun:"updated_at,notnull,default:current_timestamp"`
}

func toCheckpointModel(cp *checkpoint.Checkpoint) *checkpointModel {
	return &checkpointModel{
		ExperimentID: cp.ExperimentID.String(),
		ID:           cp.ID.String(),
		Step:         cp.Step,
		SimTime:      cp.SimTime,
		Pose:         cp.Pose,
		Motion:       cp.Motion,
		Weather:      cp.Weather,
		Traffic:      cp.Traffic,
		Sensors:      cp.Sensors,
		CreatedAt:    cp.CreatedAt,
		UpdatedAt:    cp.UpdatedAt,
	}
}

func fromCheckpointModel(m *checkpointModel) (*checkpoint.Checkpoint, error) {
	parsedID, err := id.ParseCheckpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: parse checkpoint id %q: %w", m.ID, err)
	}

	parsedExpID, err := id.ParseExperimentID(m.ExperimentID)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: parse experiment id %q: %w", m.ExperimentID, err)
	}

	return &checkpoint.Checkpoint{
		Entity: cardream.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           parsedID,
		ExperimentID: parsedExpID,
		Step:         m.Step,
		SimTime:      m.SimTime,
		Pose:         m.Pose,
		Motion:       m.Motion,
		Weather:      m.Weather,
		Traffic:      m.Traffic,
		Sensors:      m.Sensors,
	}, nil
}

// ── Fault record model ────────────────────────────────────────────

type faultModel struct {
	bun.BaseModel `bun:"table:cardream_faults"`

	ID                string    `bun:"id,pk"`
	ExperimentID      string    `bun:"experiment_id,notnull"`
	Kind              string    `bun:"kind,notnull"`
	Message           string    `bun:"message,notnull"`
	Phase             string    `bun:"phase"`
	RecoveryAttempted bool      `bun:"recovery_attempted,notnull,default:false"`
	RecoveryStrategy  string    `bun:"recovery_strategy"`
	RecoverySucceeded bool      `bun:"recovery_succeeded,notnull,default:false"`
	OccurredAt        time.Time `bun:"occurred_at,notnull,default:current_timestamp"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toFaultModel(rec *fault.Record) *faultModel {
	return &faultModel{
		ID:                rec.ID.String(),
		ExperimentID:      rec.ExperimentID.String(),
		Kind:              string(rec.Kind),
		Message:           rec.Message,
		Phase:             rec.Phase,
		RecoveryAttempted: rec.RecoveryAttempted,
		RecoveryStrategy:  rec.RecoveryStrategy,
		RecoverySucceeded: rec.RecoverySucceeded,
		OccurredAt:        rec.OccurredAt,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
}

func fromFaultModel(m *faultModel) (*fault.Record, error) {
	parsedID, err := id.ParseFaultID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: parse fault id %q: %w", m.ID, err)
	}

	parsedExpID, err := id.ParseExperimentID(m.ExperimentID)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: parse experiment id %q: %w", m.ExperimentID, err)
	}

	return &fault.Record{
		Entity: cardream.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                parsedID,
		ExperimentID:      parsedExpID,
		Kind:              fault.Kind(m.Kind),
		Message:           m.Message,
		Phase:             m.Phase,
		RecoveryAttempted: m.RecoveryAttempted,
		RecoveryStrategy:  m.RecoveryStrategy,
		RecoverySucceeded: m.RecoverySucceeded,
		OccurredAt:        m.OccurredAt,
	}, nil
}

// ── Event model ───────────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:cardream_events"`

	Seq          int64          `bun:"seq,pk,autoincrement"`
	ID           string         `bun:"id,notnull"`
	ExperimentID string         `bun:"experiment_id,notnull"`
	Kind         string         `bun:"kind,notnull"`
	Payload      map[string]any `bun:"payload,type:jsonb"`
	CreatedAt    time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:           evt.ID.String(),
		ExperimentID: evt.ExperimentID.String(),
		Kind:         evt.Kind,
		Payload:      evt.Payload,
		CreatedAt:    evt.CreatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	parsedID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: parse event id %q: %w", m.ID, err)
	}

	parsedExpID, err := id.ParseExperimentID(m.ExperimentID)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: parse experiment id %q: %w", m.ExperimentID, err)
	}

	return &event.Event{
		ID:           parsedID,
		ExperimentID: parsedExpID,
		Kind:         m.Kind,
		Payload:      m.Payload,
		CreatedAt:    m.CreatedAt,
	}, nil
}

// ── Schedule entry model ──────────────────────────────────────────

type scheduleModel struct {
	bun.BaseModel `bun:"table:cardream_schedules"`

	ID        string            `bun:"id,pk"`
	Name      string            `bun:"name,notnull,unique"`
	Cron      string            `bun:"cron,notnull"`
	Config    experiment.Config `bun:"config,type:jsonb"`
	LastRunAt *time.Time        `bun:"last_run_at"`
	NextRunAt *time.Time        `bun:"next_run_at"`
	Enabled   bool              `bun:"enabled,notnull,default:true"`
	CreatedAt time.Time         `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time         `bun:"updated_at,notnull,default:current_timestamp"`
}

func toScheduleModel(e *schedule.Entry) *scheduleModel {
	return &scheduleModel{
		ID:        e.ID.String(),
		Name:      e.Name,
		Cron:      e.Cron,
		Config:    e.Config,
		LastRunAt: e.LastRunAt,
		NextRunAt: e.NextRunAt,
		Enabled:   e.Enabled,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func fromScheduleModel(m *scheduleModel) (*schedule.Entry, error) {
	parsedID, err := id.ParseScheduleID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: parse schedule id %q: %w", m.ID, err)
	}

	return &schedule.Entry{
		Entity: cardream.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        parsedID,
		Name:      m.Name,
		Cron:      m.Cron,
		Config:    m.Config,
		LastRunAt: m.LastRunAt,
		NextRunAt: m.NextRunAt,
		Enabled:   m.Enabled,
	}, nil
}
