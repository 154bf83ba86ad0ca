package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/backend"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
)

// initialization re-validates the config and zeroes progress. It has no
// backend side effects, so a failure here is always safe to surface.
func (o *Orchestrator) initialization(ctx context.Context, r *run) error {
	if err := r.exp.Config.Validate(); err != nil {
		return err
	}
	return o.experiments.UpdateProgress(ctx, r.exp.ID, 0)
}

// backendSetup allocates the simulation session. Retries release any
// session left over from a failed attempt first.
func (o *Orchestrator) backendSetup(ctx context.Context, r *run) error {
	if err := o.sim.Ping(ctx); err != nil {
		return fmt.Errorf("simulation backend: %w", err)
	}
	if !r.simSess.IsNil() {
		o.release(r, backend.ServiceSimulation)
	}
	sess, err := o.sim.AllocateSession(ctx, r.exp.Config)
	if err != nil {
		return fmt.Errorf("allocate simulation session: %w", err)
	}
	r.simSess = sess
	o.logger.Debug("simulation session allocated",
		slog.String("experiment_id", r.exp.ID.String()),
		slog.String("session_id", sess.String()),
	)
	return nil
}

// modelSetup loads the decision model.
func (o *Orchestrator) modelSetup(ctx context.Context, r *run) error {
	if err := o.dec.Ping(ctx); err != nil {
		return fmt.Errorf("decision backend: %w", err)
	}
	if !r.decSess.IsNil() {
		o.release(r, backend.ServiceDecision)
	}
	sess, err := o.dec.AllocateSession(ctx, r.exp.Config)
	if err != nil {
		return fmt.Errorf("allocate decision session: %w", err)
	}
	r.decSess = sess
	o.logger.Debug("decision session allocated",
		slog.String("experiment_id", r.exp.ID.String()),
		slog.String("session_id", sess.String()),
	)
	return nil
}

// execution runs the state/decision/action hot loop until the time
// budget is spent. A zero budget is already spent, so the loop never
// runs. Retries after recovery resume with the remaining budget rather
// than a fresh one.
func (o *Orchestrator) execution(ctx context.Context, r *run) error {
	budget := r.exp.Config.Scenario.TimeBudget
	remaining := budget - r.loopElapsed
	if remaining <= 0 {
		return nil
	}

	limit := rate.Inf
	if o.config.StepInterval > 0 {
		limit = rate.Every(o.config.StepInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	start := time.Now()
	defer func() { r.loopElapsed += time.Since(start) }()
	deadline := start.Add(remaining)

	// stepErrors accumulates across the whole attempt; a recovery retry
	// of the Execution phase starts a fresh count.
	stepErrors := 0
	sinceCheckpoint := 0

	for time.Now().Before(deadline) {
		if r.cancelled.Load() {
			return cardream.ErrCancelled
		}
		if err := limiter.Wait(ctx); err != nil {
			if r.cancelled.Load() {
				return cardream.ErrCancelled
			}
			return err
		}

		if err := o.step(ctx, r); err != nil {
			if r.cancelled.Load() || errors.Is(err, context.Canceled) {
				return cardream.ErrCancelled
			}
			stepErrors++
			o.logger.Warn("step error",
				slog.String("experiment_id", r.exp.ID.String()),
				slog.Int("errors", stepErrors),
				slog.String("error", err.Error()),
			)
			if stepErrors > o.config.StepErrorCeiling {
				return fmt.Errorf("%w: %d step errors in one execution attempt: %w",
					cardream.ErrStepCeiling, stepErrors, err)
			}
			continue
		}

		r.steps++
		sinceCheckpoint++
		if sinceCheckpoint >= o.config.CheckpointEvery {
			sinceCheckpoint = 0
			o.snapshot(ctx, r)
			o.flush(ctx, r, budget)
		}
	}

	o.flush(ctx, r, budget)
	return nil
}

// step is one hot-loop iteration: read the world, ask the model, apply
// its action, and collect step metrics, last value wins per key.
func (o *Orchestrator) step(ctx context.Context, r *run) error {
	st, err := o.sim.GetState(ctx, r.simSess)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}
	act, err := o.dec.GetDecision(ctx, r.decSess, st)
	if err != nil {
		return fmt.Errorf("get decision: %w", err)
	}
	if err := o.sim.ApplyAction(ctx, r.simSess, act); err != nil {
		return fmt.Errorf("apply action: %w", err)
	}
	m, err := o.sim.GetStepMetrics(ctx, r.simSess)
	if err != nil {
		return fmt.Errorf("get step metrics: %w", err)
	}

	r.lastState = st
	for k, v := range m {
		r.metrics[k] = v
	}
	return nil
}

// snapshot saves a checkpoint from the last observed state. Checkpoint
// failures never abort the run.
func (o *Orchestrator) snapshot(ctx context.Context, r *run) {
	cp := checkpoint.New(r.exp.ID, r.steps)
	cp.SimTime = r.metrics["sim_time"]
	cp.Pose = checkpoint.Pose{
		X:     stateFloat(r.lastState, "pos_x"),
		Y:     stateFloat(r.lastState, "pos_y"),
		Z:     stateFloat(r.lastState, "pos_z"),
		Pitch: stateFloat(r.lastState, "pitch"),
		Yaw:   stateFloat(r.lastState, "yaw"),
		Roll:  stateFloat(r.lastState, "roll"),
	}
	cp.Motion = checkpoint.Motion{
		VelocityX:       stateFloat(r.lastState, "vel_x"),
		VelocityY:       stateFloat(r.lastState, "vel_y"),
		VelocityZ:       stateFloat(r.lastState, "vel_z"),
		AngularVelocity: stateFloat(r.lastState, "angular_velocity"),
	}
	cp.Weather = r.exp.Config.Scenario.Weather
	cp.Traffic = checkpoint.Traffic{Vehicles: r.exp.Config.Scenario.TrafficDensity}
	cp.Sensors = r.exp.Config.Scenario.Sensors

	if err := o.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		o.logger.Warn("checkpoint save failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.Int("step", r.steps),
			slog.String("error", err.Error()),
		)
		return
	}
	o.logger.Debug("checkpoint saved",
		slog.String("experiment_id", r.exp.ID.String()),
		slog.Int("step", r.steps),
	)
}

// flush persists accumulated metrics and progress.
func (o *Orchestrator) flush(ctx context.Context, r *run, budget time.Duration) {
	if len(r.metrics) > 0 {
		if err := o.experiments.StoreMetrics(ctx, r.exp.ID, r.metrics); err != nil {
			o.logger.Warn("metrics store failed",
				slog.String("experiment_id", r.exp.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	progress := r.loopElapsed.Seconds() / budget.Seconds()
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}
	if err := o.experiments.UpdateProgress(ctx, r.exp.ID, progress); err != nil {
		o.logger.Warn("progress store failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	r.exp.Progress = progress
}

// resultProcessing derives the final result from accumulated metrics.
// Missing metrics produce a partial result rather than a failure.
func (o *Orchestrator) resultProcessing(ctx context.Context, r *run) error {
	collisions, hasCollisions := r.metrics["collisions"]

	res := &experiment.Result{
		Steps:      r.steps,
		Collisions: int(collisions),
	}
	if r.steps == 0 || !hasCollisions {
		res.Incomplete = true
	}
	if r.steps > 0 {
		res.SafetyScore = 1 - float64(res.Collisions)/float64(r.steps)
		if res.SafetyScore < 0 {
			res.SafetyScore = 0
		}
		if secs := r.loopElapsed.Seconds(); secs > 0 {
			res.StepsPerSecond = float64(r.steps) / secs
		}
	}

	if err := o.experiments.UpdateResult(ctx, r.exp.ID, res); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	r.exp.Result = res

	summary := map[string]any{
		"steps":            res.Steps,
		"collisions":       res.Collisions,
		"safety_score":     res.SafetyScore,
		"steps_per_second": res.StepsPerSecond,
		"incomplete":       res.Incomplete,
	}
	if err := o.experiments.StoreSummary(ctx, r.exp.ID, summary); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

// cleanup releases both backend sessions concurrently, bounded by the
// shutdown timeout. Release failures are logged, never fatal: the
// backends reap abandoned sessions on their own.
func (o *Orchestrator) cleanup(r *run) error {
	o.releaseSessions(r)
	return nil
}

func (o *Orchestrator) releaseSessions(r *run) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.ShutdownTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if !r.simSess.IsNil() {
		sess := r.simSess
		g.Go(func() error {
			if err := o.sim.ReleaseSession(ctx, sess); err != nil {
				o.logger.Warn("simulation session release failed",
					slog.String("experiment_id", r.exp.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	if !r.decSess.IsNil() {
		sess := r.decSess
		g.Go(func() error {
			if err := o.dec.ReleaseSession(ctx, sess); err != nil {
				o.logger.Warn("decision session release failed",
					slog.String("experiment_id", r.exp.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	r.simSess, r.decSess = id.Nil, id.Nil
}

// release tears down one session synchronously, used when a setup phase
// retries.
func (o *Orchestrator) release(r *run, service string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.CallTimeout)
	defer cancel()

	var err error
	switch service {
	case backend.ServiceSimulation:
		err = o.sim.ReleaseSession(ctx, r.simSess)
		r.simSess = id.Nil
	case backend.ServiceDecision:
		err = o.dec.ReleaseSession(ctx, r.decSess)
		r.decSess = id.Nil
	}
	if err != nil {
		o.logger.Warn("stale session release failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.String("service", service),
			slog.String("error", err.Error()),
		)
	}
}

// stateFloat extracts a numeric field from an opaque backend state.
func stateFloat(st backend.State, key string) float64 {
	if st == nil {
		return 0
	}
	switch v := st[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
