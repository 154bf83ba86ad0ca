// Package engine wires all Car-Dream subsystems together. It builds the
// middleware chain, the guarded backends, the recovery dispatcher, the
// workflow orchestrator, the health monitor, and the scheduler, and
// provides the application-level Submit/Cancel/Status operations.
//
// This package exists to break the import cycle: the root cardream
// package defines Entity and Config (imported by experiment, fault,
// workflow, etc.) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/backend"
	"github.com/basedlsg/Car-Dream/breaker"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/event"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/ext"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/health"
	"github.com/basedlsg/Car-Dream/id"
	mw "github.com/basedlsg/Car-Dream/middleware"
	"github.com/basedlsg/Car-Dream/observability"
	"github.com/basedlsg/Car-Dream/recovery"
	"github.com/basedlsg/Car-Dream/schedule"
	"github.com/basedlsg/Car-Dream/workflow"
)

// Engine wraps a cardream.Engine with typed subsystem access.
// Use Build() to create one.
type Engine struct {
	core       *cardream.Engine
	extensions *ext.Registry
	logger     *slog.Logger

	orchestrator *workflow.Orchestrator
	dispatcher   *recovery.Dispatcher
	monitor      *health.Monitor
	scheduler    *schedule.Scheduler
	bus          *event.Bus
	breakers     map[string]*breaker.Breaker

	checkpoints checkpoint.Store
	mws         []mw.Middleware
	backup      checkpoint.Backup

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends middleware to the backend call chain, inside
// the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithCheckpointBackup mirrors every saved checkpoint to a remote
// backup (best-effort).
func WithCheckpointBackup(b checkpoint.Backup) Option {
	return func(eng *Engine) {
		eng.backup = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build wires an Engine from a cardream.Engine, the two backend clients,
// and the backend supervisor. The core's store must implement all the
// subsystem store interfaces (store.Store does).
func Build(core *cardream.Engine, sim backend.Simulator, dec backend.Decider, sup backend.Supervisor, opts ...Option) (*Engine, error) {
	logger := core.Logger()
	store := core.Store()

	if store == nil {
		return nil, cardream.ErrNoStore
	}

	es, ok := store.(experiment.Store)
	if !ok {
		return nil, fmt.Errorf("cardream: store does not implement experiment.Store")
	}
	cs, ok := store.(checkpoint.Store)
	if !ok {
		return nil, fmt.Errorf("cardream: store does not implement checkpoint.Store")
	}
	fs, ok := store.(fault.Store)
	if !ok {
		return nil, fmt.Errorf("cardream: store does not implement fault.Store")
	}
	evs, ok := store.(event.Store)
	if !ok {
		return nil, fmt.Errorf("cardream: store does not implement event.Store")
	}
	ss, ok := store.(schedule.Store)
	if !ok {
		return nil, fmt.Errorf("cardream: store does not implement schedule.Store")
	}

	eng := &Engine{
		core:       core,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := core.Config()

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/basedlsg/Car-Dream/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/basedlsg/Car-Dream")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/basedlsg/Car-Dream")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// One breaker per backend service.
	eng.breakers = map[string]*breaker.Breaker{
		backend.ServiceSimulation: breaker.New(backend.ServiceSimulation),
		backend.ServiceDecision:   breaker.New(backend.ServiceDecision),
	}

	// Default chain: logging → recover → tracing → metrics → breaker → timeout.
	defaultMws := []mw.Middleware{
		mw.Logging(logger),
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.CircuitBreaker(eng.breakers),
		mw.Timeout(config.CallTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)
	chain := mw.Chain(allMws...)

	gsim := backend.GuardSimulator(sim, chain)
	gdec := backend.GuardDecider(dec, chain)

	// Checkpoint store, optionally mirrored to a remote backup.
	eng.checkpoints = cs
	if eng.backup != nil {
		eng.checkpoints = checkpoint.WithBackup(cs, eng.backup, checkpoint.WithBackupLogger(logger))
	}

	eng.bus = event.NewBus(evs, event.WithLogger(logger))

	eng.dispatcher = recovery.NewDispatcher(fs, eng.checkpoints, gsim, sup,
		recovery.WithLogger(logger),
		recovery.WithEvents(eng.bus),
		recovery.WithPinger(backend.ServiceSimulation, gsim),
		recovery.WithPinger(backend.ServiceDecision, gdec),
	)

	eng.orchestrator = workflow.NewOrchestrator(config, es, eng.checkpoints, fs, gsim, gdec, eng.dispatcher,
		workflow.WithLogger(logger),
		workflow.WithEvents(eng.bus),
		workflow.WithExtensions(eng.extensions),
	)

	eng.monitor = health.NewMonitor(eng.dispatcher,
		map[string]health.Pinger{
			backend.ServiceSimulation: gsim,
			backend.ServiceDecision:   gdec,
		},
		fs, eng.checkpoints,
		health.WithLogger(logger),
		health.WithInterval(config.HealthInterval),
		health.WithRetention(config.CheckpointRetention),
	)

	eng.scheduler = schedule.NewScheduler(ss, eng.orchestrator.Start,
		schedule.WithLogger(logger),
	)

	// Wire back into the facade so its Start/Stop drive the loops.
	core.SetOrchestrator(eng.orchestrator)
	core.SetMonitor(eng.monitor)
	core.SetScheduler(eng.scheduler)
	core.SetExtensions(eng.extensions)

	return eng, nil
}

// Submit validates the config and launches a new experiment workflow.
func (eng *Engine) Submit(ctx context.Context, cfg experiment.Config) (id.ExperimentID, error) {
	return eng.orchestrator.Start(ctx, cfg)
}

// Cancel requests cooperative cancellation of a running experiment.
func (eng *Engine) Cancel(ctx context.Context, expID id.ExperimentID) error {
	return eng.orchestrator.Cancel(ctx, expID)
}

// Status returns the stored experiment record.
func (eng *Engine) Status(ctx context.Context, expID id.ExperimentID) (*experiment.Experiment, error) {
	return eng.orchestrator.Status(ctx, expID)
}

// List returns stored experiments matching the options.
func (eng *Engine) List(ctx context.Context, opts experiment.ListOpts) ([]*experiment.Experiment, error) {
	return eng.orchestrator.List(ctx, opts)
}

// RegisterSchedule validates and persists a recurring experiment launch.
func (eng *Engine) RegisterSchedule(ctx context.Context, entry *schedule.Entry) error {
	return eng.scheduler.Register(ctx, entry)
}

// Health returns the monitor's latest snapshot.
func (eng *Engine) Health() health.Report {
	return eng.monitor.Report()
}

// Start resumes interrupted experiments and begins background
// processing (health monitor, scheduler).
func (eng *Engine) Start(ctx context.Context) error {
	// Resume any non-terminal experiments left over from a previous
	// process (best-effort, non-fatal).
	eng.resumeAll(ctx)
	return eng.core.Start(ctx)
}

// Stop gracefully shuts down the engine: background loops, active
// workflows, the event bus, extensions, and the store.
func (eng *Engine) Stop(ctx context.Context) error {
	err := eng.core.Stop(ctx)
	eng.bus.Drain()
	return err
}

// resumeAll relaunches stored experiments that never reached a terminal
// phase. Admission failures are logged and skipped.
func (eng *Engine) resumeAll(ctx context.Context) {
	exps, err := eng.orchestrator.List(ctx, experiment.ListOpts{})
	if err != nil {
		eng.logger.Warn("failed to list experiments for resume",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, exp := range exps {
		if exp.Phase.Terminal() {
			continue
		}
		if resumeErr := eng.orchestrator.Resume(ctx, exp.ID); resumeErr != nil {
			eng.logger.Warn("failed to resume experiment",
				slog.String("experiment_id", exp.ID.String()),
				slog.String("error", resumeErr.Error()),
			)
		}
	}
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Orchestrator returns the workflow orchestrator.
func (eng *Engine) Orchestrator() *workflow.Orchestrator { return eng.orchestrator }

// Dispatcher returns the recovery dispatcher.
func (eng *Engine) Dispatcher() *recovery.Dispatcher { return eng.dispatcher }

// Monitor returns the health monitor.
func (eng *Engine) Monitor() *health.Monitor { return eng.monitor }

// Scheduler returns the experiment scheduler.
func (eng *Engine) Scheduler() *schedule.Scheduler { return eng.scheduler }

// EventBus returns the event bus.
func (eng *Engine) EventBus() *event.Bus { return eng.bus }

// Breaker returns the circuit breaker guarding the named service, or
// nil when the service is unknown.
func (eng *Engine) Breaker(service string) *breaker.Breaker { return eng.breakers[service] }

// Core returns the underlying facade.
func (eng *Engine) Core() *cardream.Engine { return eng.core }
