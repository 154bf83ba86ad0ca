package backend

import (
	"context"

	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
	"github.com/basedlsg/Car-Dream/middleware"
)

// Compile-time interface checks.
var (
	_ Simulator = (*GuardedSimulator)(nil)
	_ Decider   = (*GuardedDecider)(nil)
)

// GuardedSimulator wraps a Simulator so every call flows through a
// middleware chain (timeout, breaker, logging, tracing, metrics).
type GuardedSimulator struct {
	inner Simulator
	chain middleware.Middleware
}

// GuardSimulator applies the chain to every call on inner.
func GuardSimulator(inner Simulator, chain middleware.Middleware) *GuardedSimulator {
	return &GuardedSimulator{inner: inner, chain: chain}
}

func (g *GuardedSimulator) call(ctx context.Context, op string, fn middleware.Handler) error {
	return g.chain(ctx, &middleware.Call{Service: ServiceSimulation, Op: op}, fn)
}

// AllocateSession implements Simulator.
func (g *GuardedSimulator) AllocateSession(ctx context.Context, cfg experiment.Config) (id.SessionID, error) {
	var sess id.SessionID
	err := g.call(ctx, "allocate_session", func(ctx context.Context) error {
		var callErr error
		sess, callErr = g.inner.AllocateSession(ctx, cfg)
		return callErr
	})
	return sess, err
}

// Ping implements Simulator.
func (g *GuardedSimulator) Ping(ctx context.Context) error {
	return g.call(ctx, "ping", func(ctx context.Context) error {
		return g.inner.Ping(ctx)
	})
}

// GetState implements Simulator.
func (g *GuardedSimulator) GetState(ctx context.Context, sess id.SessionID) (State, error) {
	var st State
	err := g.call(ctx, "get_state", func(ctx context.Context) error {
		var callErr error
		st, callErr = g.inner.GetState(ctx, sess)
		return callErr
	})
	return st, err
}

// ApplyAction implements Simulator.
func (g *GuardedSimulator) ApplyAction(ctx context.Context, sess id.SessionID, act Action) error {
	return g.call(ctx, "apply_action", func(ctx context.Context) error {
		return g.inner.ApplyAction(ctx, sess, act)
	})
}

// GetStepMetrics implements Simulator.
func (g *GuardedSimulator) GetStepMetrics(ctx context.Context, sess id.SessionID) (map[string]float64, error) {
	var m map[string]float64
	err := g.call(ctx, "get_step_metrics", func(ctx context.Context) error {
		var callErr error
		m, callErr = g.inner.GetStepMetrics(ctx, sess)
		return callErr
	})
	return m, err
}

// Restore implements Simulator.
func (g *GuardedSimulator) Restore(ctx context.Context, sess id.SessionID, cp *checkpoint.Checkpoint) error {
	return g.call(ctx, "restore", func(ctx context.Context) error {
		return g.inner.Restore(ctx, sess, cp)
	})
}

// ReleaseSession implements Simulator.
func (g *GuardedSimulator) ReleaseSession(ctx context.Context, sess id.SessionID) error {
	return g.call(ctx, "release_session", func(ctx context.Context) error {
		return g.inner.ReleaseSession(ctx, sess)
	})
}

// GuardedDecider wraps a Decider the same way.
type GuardedDecider struct {
	inner Decider
	chain middleware.Middleware
}

// GuardDecider applies the chain to every call on inner.
func GuardDecider(inner Decider, chain middleware.Middleware) *GuardedDecider {
	return &GuardedDecider{inner: inner, chain: chain}
}

func (g *GuardedDecider) call(ctx context.Context, op string, fn middleware.Handler) error {
	return g.chain(ctx, &middleware.Call{Service: ServiceDecision, Op: op}, fn)
}

// AllocateSession implements Decider.
func (g *GuardedDecider) AllocateSession(ctx context.Context, cfg experiment.Config) (id.SessionID, error) {
	var sess id.SessionID
	err := g.call(ctx, "allocate_session", func(ctx context.Context) error {
		var callErr error
		sess, callErr = g.inner.AllocateSession(ctx, cfg)
		return callErr
	})
	return sess, err
}

// Ping implements Decider.
func (g *GuardedDecider) Ping(ctx context.Context) error {
	return g.call(ctx, "ping", func(ctx context.Context) error {
		return g.inner.Ping(ctx)
	})
}

// GetDecision implements Decider.
func (g *GuardedDecider) GetDecision(ctx context.Context, sess id.SessionID, st State) (Action, error) {
	var act Action
	err := g.call(ctx, "get_decision", func(ctx context.Context) error {
		var callErr error
		act, callErr = g.inner.GetDecision(ctx, sess, st)
		return callErr
	})
	return act, err
}

// ReleaseSession implements Decider.
func (g *GuardedDecider) ReleaseSession(ctx context.Context, sess id.SessionID) error {
	return g.call(ctx, "release_session", func(ctx context.Context) error {
		return g.inner.ReleaseSession(ctx, sess)
	})
}
