package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/backend"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/event"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/ext"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
	"github.com/basedlsg/Car-Dream/recovery"
)

// Dispatcher is the slice of the recovery dispatcher the orchestrator
// needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, expID id.ExperimentID, kind fault.Kind, msg string, rctx recovery.Context) bool
}

// run is the in-memory state of one in-flight experiment. The
// orchestrator goroutine owns all fields except the cancellation flag.
type run struct {
	exp  *experiment.Experiment
	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}

	// cancelled is flipped by Cancel and checked between phases and on
	// every Execution step.
	cancelled atomic.Bool

	simSess id.SessionID
	decSess id.SessionID

	steps       int
	metrics     map[string]float64
	lastState   backend.State
	loopElapsed time.Duration
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEvents sets the lifecycle event publisher.
func WithEvents(p event.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithExtensions sets the extension registry notified of lifecycle
// events.
func WithExtensions(r *ext.Registry) Option {
	return func(o *Orchestrator) { o.extensions = r }
}

// Orchestrator runs experiment workflows. One instance is the single
// writer for every experiment it starts.
type Orchestrator struct {
	config      cardream.Config
	experiments experiment.Store
	checkpoints checkpoint.Store
	faults      fault.Store
	sim         backend.Simulator
	dec         backend.Decider
	dispatcher  Dispatcher
	events      event.Publisher
	extensions  *ext.Registry
	logger      *slog.Logger

	mu     sync.Mutex
	active map[id.ExperimentID]*run
}

// NewOrchestrator creates an Orchestrator over the given stores and
// backends.
func NewOrchestrator(
	config cardream.Config,
	experiments experiment.Store,
	checkpoints checkpoint.Store,
	faults fault.Store,
	sim backend.Simulator,
	dec backend.Decider,
	dispatcher Dispatcher,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		config:      config,
		experiments: experiments,
		checkpoints: checkpoints,
		faults:      faults,
		sim:         sim,
		dec:         dec,
		dispatcher:  dispatcher,
		events:      event.NopPublisher{},
		logger:      slog.Default(),
		active:      make(map[id.ExperimentID]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.extensions == nil {
		o.extensions = ext.NewRegistry(o.logger)
	}
	return o
}

// Start validates the config, persists a new experiment, and launches
// its workflow goroutine. It returns as soon as the experiment is
// accepted.
func (o *Orchestrator) Start(ctx context.Context, cfg experiment.Config) (id.ExperimentID, error) {
	if err := cfg.Validate(); err != nil {
		return id.Nil, err
	}
	exp := experiment.New(cfg)

	r, err := o.admit(exp)
	if err != nil {
		return id.Nil, err
	}

	if err := o.experiments.CreateExperiment(ctx, exp); err != nil {
		o.remove(exp.ID)
		return id.Nil, err
	}

	o.events.Publish(exp.ID, event.KindExperimentSubmitted, map[string]any{"name": exp.Name})
	o.extensions.EmitExperimentStarted(ctx, exp)
	o.logger.Info("experiment submitted",
		slog.String("experiment_id", exp.ID.String()),
		slog.String("name", exp.Name),
	)

	go o.runExperiment(r)
	return exp.ID, nil
}

// Resume relaunches a stored, non-terminal experiment after a process
// restart. The workflow re-runs from Initialization; setup phases are
// idempotent against the backends.
func (o *Orchestrator) Resume(ctx context.Context, expID id.ExperimentID) error {
	exp, err := o.experiments.GetExperiment(ctx, expID)
	if err != nil {
		return err
	}
	if exp.Phase.Terminal() {
		return cardream.ErrExperimentNotActive
	}

	r, err := o.admit(exp)
	if err != nil {
		return err
	}
	o.logger.Info("experiment resumed",
		slog.String("experiment_id", exp.ID.String()),
		slog.String("phase", string(exp.Phase)),
	)
	go o.runExperiment(r)
	return nil
}

// admit reserves an active slot for the experiment under the
// concurrency limit.
func (o *Orchestrator) admit(exp *experiment.Experiment) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[exp.ID]; ok {
		return nil, cardream.ErrExperimentActive
	}
	if len(o.active) >= o.config.MaxConcurrentExperiments {
		return nil, cardream.ErrTooManyExperiments
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		exp:     exp,
		ctx:     ctx,
		stop:    cancel,
		done:    make(chan struct{}),
		metrics: make(map[string]float64),
	}
	o.active[exp.ID] = r
	return r, nil
}

func (o *Orchestrator) remove(expID id.ExperimentID) {
	o.mu.Lock()
	delete(o.active, expID)
	o.mu.Unlock()
}

// Cancel requests cooperative cancellation of a running experiment.
// Cancelling an experiment twice is a no-op; cancelling one that is not
// running returns cardream.ErrExperimentNotActive.
func (o *Orchestrator) Cancel(ctx context.Context, expID id.ExperimentID) error {
	o.mu.Lock()
	r, ok := o.active[expID]
	o.mu.Unlock()
	if !ok {
		if _, err := o.experiments.GetExperiment(ctx, expID); err != nil {
			return err
		}
		return cardream.ErrExperimentNotActive
	}

	if r.cancelled.Swap(true) {
		return nil
	}
	r.stop()
	o.logger.Info("experiment cancellation requested",
		slog.String("experiment_id", expID.String()),
	)
	return nil
}

// Status returns the stored experiment record.
func (o *Orchestrator) Status(ctx context.Context, expID id.ExperimentID) (*experiment.Experiment, error) {
	return o.experiments.GetExperiment(ctx, expID)
}

// List returns stored experiments matching the options.
func (o *Orchestrator) List(ctx context.Context, opts experiment.ListOpts) ([]*experiment.Experiment, error) {
	return o.experiments.ListExperiments(ctx, opts)
}

// Active returns the number of in-flight experiments.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Shutdown waits for in-flight experiments to finish. When the context
// expires first, remaining experiments are cancelled and awaited.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	runs := make([]*run, 0, len(o.active))
	for _, r := range o.active {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, r := range runs {
			<-r.done
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.logger.Warn("shutdown deadline reached, cancelling active experiments",
			slog.Int("active", len(runs)),
		)
		for _, r := range runs {
			if !r.cancelled.Swap(true) {
				r.stop()
			}
		}
		<-done
		return ctx.Err()
	}
}

// runExperiment is the workflow goroutine: it walks the phase sequence,
// routing failures through recovery and finishing in exactly one
// terminal state.
func (o *Orchestrator) runExperiment(r *run) {
	defer close(r.done)
	defer o.remove(r.exp.ID)

	started := time.Now()
	phase := experiment.PhaseInitialization

	for {
		if r.cancelled.Load() {
			o.finalizeCancelled(r)
			return
		}

		err := o.runPhase(r.ctx, r, phase)
		if err != nil {
			if r.cancelled.Load() || errors.Is(err, cardream.ErrCancelled) || errors.Is(err, context.Canceled) {
				o.finalizeCancelled(r)
				return
			}

			kind := fault.Classify(err)
			o.logger.Warn("phase failed",
				slog.String("experiment_id", r.exp.ID.String()),
				slog.String("phase", string(phase)),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			if o.dispatcher.Dispatch(r.ctx, r.exp.ID, kind, err.Error(), recovery.Context{
				Phase:   string(phase),
				Session: r.simSess,
			}) {
				// Recovered: retry the same phase from the top.
				continue
			}
			o.finalizeFailed(r, phase, kind, err)
			return
		}

		if phase == experiment.PhaseCleanup {
			o.finalizeCompleted(r, time.Since(started))
			return
		}
		phase = phase.Next()
	}
}

// runPhase persists the transition, runs the phase body, and emits the
// outcome.
func (o *Orchestrator) runPhase(ctx context.Context, r *run, phase experiment.Phase) error {
	if err := o.experiments.UpdatePhase(ctx, r.exp.ID, phase); err != nil {
		return fmt.Errorf("persist phase %s: %w", phase, err)
	}
	r.exp.Phase = phase
	r.exp.Touch()

	o.events.Publish(r.exp.ID, event.KindPhaseStarted, map[string]any{"phase": string(phase)})
	o.extensions.EmitPhaseStarted(ctx, r.exp, phase)

	start := time.Now()
	var err error
	switch phase {
	case experiment.PhaseInitialization:
		err = o.initialization(ctx, r)
	case experiment.PhaseBackendSetup:
		err = o.backendSetup(ctx, r)
	case experiment.PhaseModelSetup:
		err = o.modelSetup(ctx, r)
	case experiment.PhaseExecution:
		err = o.execution(ctx, r)
	case experiment.PhaseResultProcessing:
		err = o.resultProcessing(ctx, r)
	case experiment.PhaseCleanup:
		err = o.cleanup(r)
	}
	if err != nil {
		o.events.Publish(r.exp.ID, event.KindPhaseFailed, map[string]any{
			"phase": string(phase),
			"error": err.Error(),
		})
		o.extensions.EmitPhaseFailed(ctx, r.exp, phase, err)
		return err
	}

	o.events.Publish(r.exp.ID, event.KindPhaseCompleted, map[string]any{"phase": string(phase)})
	o.extensions.EmitPhaseCompleted(ctx, r.exp, phase, time.Since(start))
	return nil
}

// finalize helpers run under a fresh bounded context: the run context
// may already be cancelled.

func (o *Orchestrator) finalizeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.config.ShutdownTimeout)
}

func (o *Orchestrator) finalizeCompleted(r *run, elapsed time.Duration) {
	ctx, cancel := o.finalizeContext()
	defer cancel()

	if err := o.experiments.UpdatePhase(ctx, r.exp.ID, experiment.PhaseCompleted); err != nil {
		o.logger.Error("persist completed phase failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	r.exp.Phase = experiment.PhaseCompleted
	if err := o.experiments.UpdateProgress(ctx, r.exp.ID, 1); err != nil {
		o.logger.Error("persist final progress failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	o.resetAttempts(ctx, r)

	if err := o.checkpoints.DeleteCheckpoint(ctx, r.exp.ID); err != nil {
		o.logger.Warn("checkpoint delete failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	o.events.Publish(r.exp.ID, event.KindExperimentCompleted, map[string]any{
		"steps":   r.steps,
		"elapsed": elapsed.Seconds(),
	})
	o.extensions.EmitExperimentCompleted(ctx, r.exp, elapsed)
	o.logger.Info("experiment completed",
		slog.String("experiment_id", r.exp.ID.String()),
		slog.Int("steps", r.steps),
		slog.Duration("elapsed", elapsed),
	)
}

func (o *Orchestrator) finalizeFailed(r *run, phase experiment.Phase, kind fault.Kind, cause error) {
	ctx, cancel := o.finalizeContext()
	defer cancel()

	o.releaseSessions(r)

	msg := fmt.Sprintf("%s in phase %s: %s", kind, phase, cause.Error())
	if err := o.experiments.Fail(ctx, r.exp.ID, msg); err != nil {
		o.logger.Error("persist failed phase failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	r.exp.Phase = experiment.PhaseFailed
	r.exp.Error = msg
	o.resetAttempts(ctx, r)

	o.events.Publish(r.exp.ID, event.KindExperimentFailed, map[string]any{
		"phase": string(phase),
		"kind":  string(kind),
		"error": cause.Error(),
	})
	o.extensions.EmitExperimentFailed(ctx, r.exp, cause)
	o.logger.Error("experiment failed",
		slog.String("experiment_id", r.exp.ID.String()),
		slog.String("phase", string(phase)),
		slog.String("kind", string(kind)),
		slog.String("error", cause.Error()),
	)
}

func (o *Orchestrator) finalizeCancelled(r *run) {
	ctx, cancel := o.finalizeContext()
	defer cancel()

	o.releaseSessions(r)

	if err := o.experiments.UpdatePhase(ctx, r.exp.ID, experiment.PhaseCancelled); err != nil {
		o.logger.Error("persist cancelled phase failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	r.exp.Phase = experiment.PhaseCancelled
	o.resetAttempts(ctx, r)

	o.events.Publish(r.exp.ID, event.KindExperimentCancelled, nil)
	o.extensions.EmitExperimentCancelled(ctx, r.exp)
	o.logger.Info("experiment cancelled",
		slog.String("experiment_id", r.exp.ID.String()),
	)
}

// resetAttempts clears recovery budgets when the experiment terminates.
func (o *Orchestrator) resetAttempts(ctx context.Context, r *run) {
	if err := o.faults.ResetAttempts(ctx, r.exp.ID); err != nil {
		o.logger.Error("reset recovery attempts failed",
			slog.String("experiment_id", r.exp.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
