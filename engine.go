package cardream

import (
	"context"
	"log/slog"
)

// Option configures an Engine.
type Option func(*Engine) error

// Storer is the minimal store interface held by the Engine.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// orchestratorRunner is an internal interface for the workflow
// orchestrator's lifecycle.
type orchestratorRunner interface {
	Active() int
	Shutdown(ctx context.Context) error
}

// loopRunner is an internal interface for background loops (health
// monitor, scheduler).
type loopRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Engine is the central coordinator for experiment workflows, health
// monitoring, and scheduled launches.
//
// Create one with New() and functional options. The Engine holds
// references to subsystem components via internal interfaces to avoid
// import cycles; wiring code injects the concrete orchestrator, monitor,
// and scheduler after construction.
type Engine struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter

	orchestrator orchestratorRunner
	monitor      loopRunner
	scheduler    loopRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Engine with the given options.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Store returns the engine's store.
func (e *Engine) Store() Storer { return e.store }

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config { return e.config }

// SetOrchestrator sets the workflow orchestrator (called by wiring code).
func (e *Engine) SetOrchestrator(o orchestratorRunner) { e.orchestrator = o }

// SetMonitor sets the health monitor loop (called by wiring code).
func (e *Engine) SetMonitor(m loopRunner) { e.monitor = m }

// SetScheduler sets the schedule loop (called by wiring code).
func (e *Engine) SetScheduler(s loopRunner) { e.scheduler = s }

// SetExtensions sets the extension emitter (called by wiring code).
func (e *Engine) SetExtensions(x extensionEmitter) { e.extensions = x }

// Start begins background processing: the health monitor and, when
// configured, the experiment scheduler. Experiment submission does not
// require Start; only the background loops do.
func (e *Engine) Start(ctx context.Context) error {
	if e.store == nil {
		return ErrNoStore
	}
	if e.monitor != nil {
		if err := e.monitor.Start(ctx); err != nil {
			return err
		}
	}
	if e.scheduler != nil {
		if err := e.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	e.started = true
	return nil
}

// Stop gracefully shuts down the engine: background loops first, then
// active workflows, then extensions and the store.
func (e *Engine) Stop(ctx context.Context) error {
	if e.started {
		if e.scheduler != nil {
			if err := e.scheduler.Stop(ctx); err != nil {
				e.logger.Error("scheduler stop error", "error", err)
			}
		}
		if e.monitor != nil {
			if err := e.monitor.Stop(ctx); err != nil {
				e.logger.Error("monitor stop error", "error", err)
			}
		}
	}
	if e.orchestrator != nil {
		if err := e.orchestrator.Shutdown(ctx); err != nil {
			e.logger.Error("orchestrator shutdown error", "error", err)
		}
	}
	if e.extensions != nil {
		e.extensions.EmitShutdown(ctx)
	}
	if e.store != nil {
		return e.store.Close(ctx)
	}
	return nil
}

// WithConfig replaces the entire configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) error {
		e.config = c
		return nil
	}
}

// WithMaxConcurrent sets the maximum number of concurrently running
// experiments.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) error {
		e.config.MaxConcurrentExperiments = n
		return nil
	}
}

// WithLogger sets the structured logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the engine.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}
