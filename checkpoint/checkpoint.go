package checkpoint

import (
	"context"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/id"
)

// Pose is the vehicle transform: position in meters, rotation in degrees.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Motion is the vehicle's kinematic state at snapshot time.
type Motion struct {
	VelocityX       float64 `json:"velocity_x"`
	VelocityY       float64 `json:"velocity_y"`
	VelocityZ       float64 `json:"velocity_z"`
	AngularVelocity float64 `json:"angular_velocity"`
}

// Traffic is the background actor population at snapshot time.
type Traffic struct {
	Vehicles    int `json:"vehicles"`
	Pedestrians int `json:"pedestrians"`
}

// Checkpoint is one snapshot of an experiment's simulated state.
type Checkpoint struct {
	cardream.Entity

	ID           id.CheckpointID `json:"id"`
	ExperimentID id.ExperimentID `json:"experiment_id"`

	// Step is the Execution-loop iteration at which the snapshot was
	// taken; SimTime is the simulation clock in seconds.
	Step    int     `json:"step"`
	SimTime float64 `json:"sim_time"`

	Pose    Pose     `json:"pose"`
	Motion  Motion   `json:"motion"`
	Weather string   `json:"weather,omitempty"`
	Traffic Traffic  `json:"traffic"`
	Sensors []string `json:"sensors,omitempty"`
}

// New creates a checkpoint for the given experiment with a fresh ID and
// timestamps.
func New(expID id.ExperimentID, step int) *Checkpoint {
	return &Checkpoint{
		Entity:       cardream.NewEntity(),
		ID:           id.NewCheckpointID(),
		ExperimentID: expID,
		Step:         step,
	}
}

// Store is the persistence port for checkpoints.
type Store interface {
	// SaveCheckpoint persists cp as the latest snapshot for its
	// experiment, replacing any previous one.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LatestCheckpoint returns the latest snapshot for the experiment.
	// Returns cardream.ErrCheckpointNotFound if none exists.
	LatestCheckpoint(ctx context.Context, expID id.ExperimentID) (*Checkpoint, error)

	// DeleteCheckpoint removes the experiment's snapshot, if any.
	DeleteCheckpoint(ctx context.Context, expID id.ExperimentID) error

	// PurgeCheckpoints removes snapshots created before the cutoff and
	// reports how many were evicted.
	PurgeCheckpoints(ctx context.Context, olderThan time.Time) (int, error)
}
