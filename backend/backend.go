// Package backend defines the ports to the two external services the
// engine drives: the simulation backend (world state, physics, sensors)
// and the decision backend (the learned driving agent). Implementations
// live in subpackages; the orchestrator only sees these interfaces,
// normally wrapped by the middleware guard in this package.
package backend

import (
	"context"

	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
)

// Service names used by breakers, middleware, and the supervisor.
const (
	ServiceSimulation = "simulation"
	ServiceDecision   = "decision"
)

// State is the opaque simulated-world snapshot returned by GetState and
// fed to the decision backend.
type State map[string]any

// Action is the opaque control decision returned by the decision
// backend and applied to the simulation.
type Action map[string]any

// Simulator is the simulation backend port. All calls are synchronous
// and must be issued with a bounded deadline (the guard enforces one).
type Simulator interface {
	// AllocateSession creates a simulation session for the scenario.
	AllocateSession(ctx context.Context, cfg experiment.Config) (id.SessionID, error)

	// Ping probes backend liveness.
	Ping(ctx context.Context) error

	// GetState fetches the current simulated state.
	GetState(ctx context.Context, sess id.SessionID) (State, error)

	// ApplyAction applies a control decision to the simulation.
	ApplyAction(ctx context.Context, sess id.SessionID, act Action) error

	// GetStepMetrics fetches per-step numeric metrics.
	GetStepMetrics(ctx context.Context, sess id.SessionID) (map[string]float64, error)

	// Restore re-creates the simulated entity at the checkpoint's pose.
	Restore(ctx context.Context, sess id.SessionID, cp *checkpoint.Checkpoint) error

	// ReleaseSession tears the session down.
	ReleaseSession(ctx context.Context, sess id.SessionID) error
}

// Decider is the decision-model backend port.
type Decider interface {
	// AllocateSession loads the model referenced by the config.
	AllocateSession(ctx context.Context, cfg experiment.Config) (id.SessionID, error)

	// Ping probes backend liveness.
	Ping(ctx context.Context) error

	// GetDecision submits a state and returns the model's action.
	GetDecision(ctx context.Context, sess id.SessionID, st State) (Action, error)

	// ReleaseSession unloads the model session.
	ReleaseSession(ctx context.Context, sess id.SessionID) error
}

// Supervisor controls backend processes for recovery: restarting a
// crashed service and shedding load under resource pressure.
type Supervisor interface {
	// Restart terminates and relaunches the named service.
	Restart(ctx context.Context, service string) error

	// ScaleDown reduces the named service's load (fidelity, traffic,
	// sensor rate).
	ScaleDown(ctx context.Context, service string) error
}
