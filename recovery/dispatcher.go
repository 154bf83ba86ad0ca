package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/backend"
	"github.com/basedlsg/Car-Dream/backoff"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/event"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
)

// Pinger probes a backend's liveness after a restart.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Context carries the failing workflow's situation into a dispatch.
type Context struct {
	// Phase is the experiment phase in which the failure occurred.
	Phase string

	// Session is the simulation session to restore into, when the
	// strategy is a checkpoint restore.
	Session id.SessionID

	// Service overrides the rule's default target service.
	Service string
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithEvents sets the publisher for recovery-attempted events.
func WithEvents(p event.Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithRules replaces the built-in strategy table.
func WithRules(r Rules) Option {
	return func(d *Dispatcher) { d.rules = r }
}

// WithRestartCap sets the process-wide restart limit.
func WithRestartCap(n int) Option {
	return func(d *Dispatcher) { d.restartCap = int64(n) }
}

// WithRestartCounter shares an externally owned restart counter, so the
// cap holds across dispatchers in one process.
func WithRestartCounter(c *atomic.Int64) Option {
	return func(d *Dispatcher) { d.restarts = c }
}

// WithPinger registers the liveness probe for one service. Restarts of a
// service without a registered pinger skip the readiness check.
func WithPinger(service string, p Pinger) Option {
	return func(d *Dispatcher) { d.pingers[service] = p }
}

// WithProbe tunes the post-restart readiness probing.
func WithProbe(attempts int, interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.probeAttempts = attempts
		d.probeWait = backoff.NewConstant(interval)
	}
}

// WithSleep replaces the delay function. Tests use this to make the
// per-kind waits instant.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// Dispatcher executes bounded recovery for classified failures.
type Dispatcher struct {
	faults      fault.Store
	checkpoints checkpoint.Store
	sim         backend.Simulator
	supervisor  backend.Supervisor
	pingers     map[string]Pinger
	events      event.Publisher
	logger      *slog.Logger
	rules       Rules

	restarts   *atomic.Int64
	restartCap int64

	probeAttempts int
	probeWait     backoff.Strategy
	sleep         func(context.Context, time.Duration) error
}

// NewDispatcher creates a Dispatcher over the given stores and backends.
func NewDispatcher(faults fault.Store, checkpoints checkpoint.Store, sim backend.Simulator, supervisor backend.Supervisor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		faults:        faults,
		checkpoints:   checkpoints,
		sim:           sim,
		supervisor:    supervisor,
		pingers:       make(map[string]Pinger),
		events:        event.NopPublisher{},
		logger:        slog.Default(),
		rules:         DefaultRules(),
		restarts:      new(atomic.Int64),
		restartCap:    DefaultGlobalRestartCap,
		probeAttempts: DefaultProbeAttempts,
		probeWait:     backoff.NewConstant(DefaultProbeDelay),
		sleep:         backoff.Wait,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Restarts returns how many backend restarts the process has performed.
func (d *Dispatcher) Restarts() int64 { return d.restarts.Load() }

// Dispatch attempts recovery for one classified failure and reports
// whether the failing operation may be retried. A failure record is
// appended in every case, budget exhausted or not; the recovery outcome
// is written back onto it once the strategy finishes.
func (d *Dispatcher) Dispatch(ctx context.Context, expID id.ExperimentID, kind fault.Kind, msg string, rctx Context) bool {
	rule := d.rules(kind)
	rec := fault.NewRecord(expID, kind, msg)
	rec.Phase = rctx.Phase

	attempts, err := d.faults.Attempts(ctx, expID, kind)
	if err != nil {
		d.logger.Error("recovery attempt lookup failed",
			slog.String("experiment_id", expID.String()),
			slog.String("error", err.Error()),
		)
		d.append(ctx, rec)
		return false
	}
	if attempts >= rule.MaxAttempts {
		d.append(ctx, rec)
		d.logger.Warn("recovery budget exhausted",
			slog.String("experiment_id", expID.String()),
			slog.String("kind", string(kind)),
			slog.Int("attempts", attempts),
			slog.Int("max_attempts", rule.MaxAttempts),
		)
		return false
	}
	attempt, err := d.faults.IncrementAttempts(ctx, expID, kind)
	if err != nil {
		d.logger.Error("recovery attempt increment failed",
			slog.String("experiment_id", expID.String()),
			slog.String("error", err.Error()),
		)
		d.append(ctx, rec)
		return false
	}

	rec.RecoveryAttempted = true
	rec.RecoveryStrategy = rule.Strategy
	d.append(ctx, rec)

	d.logger.Info("attempting recovery",
		slog.String("experiment_id", expID.String()),
		slog.String("kind", string(kind)),
		slog.String("strategy", rule.Strategy),
		slog.Int("attempt", attempt),
	)

	ok := d.execute(ctx, rule, expID, rctx)

	if err := d.faults.UpdateRecoveryOutcome(ctx, rec.ID, ok); err != nil {
		d.logger.Error("recovery outcome update failed",
			slog.String("fault_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	d.events.Publish(expID, event.KindRecoveryAttempted, map[string]any{
		"kind":      string(kind),
		"strategy":  rule.Strategy,
		"attempt":   attempt,
		"succeeded": ok,
	})
	return ok
}

func (d *Dispatcher) append(ctx context.Context, rec *fault.Record) {
	if err := d.faults.AppendRecord(ctx, rec); err != nil {
		d.logger.Error("fault record append failed",
			slog.String("experiment_id", rec.ExperimentID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) execute(ctx context.Context, rule Rule, expID id.ExperimentID, rctx Context) bool {
	service := rule.Service
	if rctx.Service != "" {
		service = rctx.Service
	}

	switch rule.Strategy {
	case StrategyWaitRetry:
		return d.sleep(ctx, rule.Delay) == nil

	case StrategyScaleDown:
		if err := d.supervisor.ScaleDown(ctx, service); err != nil {
			d.logger.Warn("scale down failed",
				slog.String("service", service),
				slog.String("error", err.Error()),
			)
			return false
		}
		return true

	case StrategyRestoreCheckpoint:
		return d.restore(ctx, rule, expID, rctx)

	case StrategyRestartBackend:
		return d.restart(ctx, rule, service)

	default:
		d.logger.Error("unknown recovery strategy", slog.String("strategy", rule.Strategy))
		return false
	}
}

func (d *Dispatcher) restore(ctx context.Context, rule Rule, expID id.ExperimentID, rctx Context) bool {
	if d.sleep(ctx, rule.Delay) != nil {
		return false
	}
	cp, err := d.checkpoints.LatestCheckpoint(ctx, expID)
	if err != nil {
		if errors.Is(err, cardream.ErrCheckpointNotFound) {
			d.logger.Warn("no checkpoint to restore",
				slog.String("experiment_id", expID.String()),
			)
		} else {
			d.logger.Error("checkpoint lookup failed",
				slog.String("experiment_id", expID.String()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	if err := d.sim.Restore(ctx, rctx.Session, cp); err != nil {
		d.logger.Warn("checkpoint restore failed",
			slog.String("experiment_id", expID.String()),
			slog.Int("step", cp.Step),
			slog.String("error", err.Error()),
		)
		return false
	}
	d.logger.Info("restored from checkpoint",
		slog.String("experiment_id", expID.String()),
		slog.Int("step", cp.Step),
	)
	return true
}

func (d *Dispatcher) restart(ctx context.Context, rule Rule, service string) bool {
	if d.restarts.Add(1) > d.restartCap {
		d.restarts.Add(-1)
		d.logger.Error("global restart cap reached",
			slog.String("service", service),
			slog.Int64("cap", d.restartCap),
			slog.String("error", cardream.ErrRestartCapExceeded.Error()),
		)
		return false
	}
	if d.sleep(ctx, rule.Delay) != nil {
		return false
	}
	if err := d.supervisor.Restart(ctx, service); err != nil {
		d.logger.Warn("backend restart failed",
			slog.String("service", service),
			slog.String("error", err.Error()),
		)
		return false
	}

	p, ok := d.pingers[service]
	if !ok {
		return true
	}
	var lastErr error
	for i := 1; i <= d.probeAttempts; i++ {
		if i > 1 {
			if d.sleep(ctx, d.probeWait.Delay(i)) != nil {
				return false
			}
		}
		if lastErr = p.Ping(ctx); lastErr == nil {
			d.logger.Info("backend ready after restart",
				slog.String("service", service),
				slog.Int("probes", i),
			)
			return true
		}
	}
	d.logger.Warn("backend not ready after restart",
		slog.String("service", service),
		slog.Int("probes", d.probeAttempts),
		slog.String("error", lastErr.Error()),
	)
	return false
}
