package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
	"github.com/basedlsg/Car-Dream/recovery"
)

// Defaults for the watchdog thresholds.
const (
	DefaultInterval           = 30 * time.Second
	DefaultMemoryThreshold    = 90.0
	DefaultErrorRateThreshold = 0.5 // records per minute
	DefaultErrorWindow        = 5 * time.Minute
	DefaultRetention          = 24 * time.Hour
	DefaultPingTimeout        = 5 * time.Second
)

// Dispatcher is the slice of the recovery dispatcher the monitor needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, expID id.ExperimentID, kind fault.Kind, msg string, rctx recovery.Context) bool
}

// Pinger probes one backend's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Report is a point-in-time health snapshot.
type Report struct {
	Healthy       bool            `json:"healthy"`
	Backends      map[string]bool `json:"backends"`
	MemoryPercent float64         `json:"memory_percent"`
	CPUPercent    float64         `json:"cpu_percent"`

	// ErrorRate is fault records per minute over the rolling window.
	ErrorRate float64 `json:"error_rate"`

	CheckedAt time.Time `json:"checked_at"`
}

// Option configures the Monitor.
type Option func(*Monitor)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithMemoryThreshold sets the used-memory percentage above which a
// memory-exhaustion recovery is dispatched.
func WithMemoryThreshold(pct float64) Option {
	return func(m *Monitor) { m.memThreshold = pct }
}

// WithErrorRate sets the rolling error-rate alert: records per minute
// over the given window.
func WithErrorRate(perMinute float64, window time.Duration) Option {
	return func(m *Monitor) {
		m.rateThreshold = perMinute
		m.rateWindow = window
	}
}

// WithRetention sets how long checkpoints are kept before purging.
func WithRetention(d time.Duration) Option {
	return func(m *Monitor) { m.retention = d }
}

// WithPingTimeout bounds each liveness probe.
func WithPingTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.pingTimeout = d }
}

// WithSampler replaces the host resource sampler.
func WithSampler(s Sampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// Monitor is the background watchdog loop.
type Monitor struct {
	dispatcher  Dispatcher
	pingers     map[string]Pinger
	sampler     Sampler
	faults      fault.Store
	checkpoints checkpoint.Store
	logger      *slog.Logger

	interval      time.Duration
	memThreshold  float64
	rateThreshold float64
	rateWindow    time.Duration
	retention     time.Duration
	pingTimeout   time.Duration

	// systemID attributes watchdog-initiated recoveries, so their
	// budgets are tracked apart from any real experiment.
	systemID id.ExperimentID

	reportMu sync.RWMutex
	report   Report

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewMonitor creates a Monitor probing the given backends.
func NewMonitor(dispatcher Dispatcher, pingers map[string]Pinger, faults fault.Store, checkpoints checkpoint.Store, opts ...Option) *Monitor {
	m := &Monitor{
		dispatcher:    dispatcher,
		pingers:       pingers,
		sampler:       SystemSampler{},
		faults:        faults,
		checkpoints:   checkpoints,
		logger:        slog.Default(),
		interval:      DefaultInterval,
		memThreshold:  DefaultMemoryThreshold,
		rateThreshold: DefaultErrorRateThreshold,
		rateWindow:    DefaultErrorWindow,
		retention:     DefaultRetention,
		pingTimeout:   DefaultPingTimeout,
		systemID:      id.NewExperimentID(),
		stopCh:        make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.report = Report{Healthy: true, Backends: make(map[string]bool)}
	return m
}

// SystemID returns the synthetic experiment ID watchdog recoveries run
// under.
func (m *Monitor) SystemID() id.ExperimentID { return m.systemID }

// Start launches the watchdog loop. It returns immediately.
func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true

	m.logger.Info("health monitor starting",
		slog.Duration("interval", m.interval),
		slog.String("system_id", m.systemID.String()),
	)
	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop signals the loop to stop and waits for it to finish.
func (m *Monitor) Stop(_ context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
	return nil
}

// Report returns the latest health snapshot.
func (m *Monitor) Report() Report {
	m.reportMu.RLock()
	defer m.reportMu.RUnlock()

	r := m.report
	r.Backends = make(map[string]bool, len(m.report.Backends))
	for k, v := range m.report.Backends {
		r.Backends[k] = v
	}
	return r
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Check(context.Background())
		}
	}
}

// Check runs one watchdog pass. The loop calls it on every tick; tests
// and operators may invoke it directly.
func (m *Monitor) Check(ctx context.Context) Report {
	r := Report{
		Healthy:   true,
		Backends:  make(map[string]bool, len(m.pingers)),
		CheckedAt: time.Now().UTC(),
	}

	for service, p := range m.pingers {
		alive := m.probe(ctx, p)
		r.Backends[service] = alive
		if alive {
			continue
		}
		r.Healthy = false
		m.logger.Warn("backend liveness probe failed", slog.String("service", service))
		m.dispatcher.Dispatch(ctx, m.systemID, fault.KindBackendCrash,
			"liveness probe failed: "+service,
			recovery.Context{Service: service},
		)
	}

	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Error("resource sample failed", slog.String("error", err.Error()))
	} else {
		r.MemoryPercent = sample.MemoryPercent
		r.CPUPercent = sample.CPUPercent
		if sample.MemoryPercent > m.memThreshold {
			r.Healthy = false
			m.logger.Warn("memory pressure",
				slog.Float64("used_percent", sample.MemoryPercent),
				slog.Float64("threshold", m.memThreshold),
			)
			m.dispatcher.Dispatch(ctx, m.systemID, fault.KindMemoryExhaustion,
				"host memory above threshold",
				recovery.Context{},
			)
		}
	}

	r.ErrorRate = m.errorRate(ctx)
	if r.ErrorRate > m.rateThreshold {
		// Elevated rate is advisory only; the per-failure budgets
		// already bound recovery.
		m.logger.Warn("elevated error rate",
			slog.Float64("per_minute", r.ErrorRate),
			slog.Float64("threshold", m.rateThreshold),
		)
	}

	m.purge(ctx)

	m.reportMu.Lock()
	m.report = r
	m.reportMu.Unlock()
	return r
}

func (m *Monitor) probe(ctx context.Context, p Pinger) bool {
	ctx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()
	return p.Ping(ctx) == nil
}

func (m *Monitor) errorRate(ctx context.Context) float64 {
	n, err := m.faults.CountRecordsSince(ctx, time.Now().UTC().Add(-m.rateWindow))
	if err != nil {
		m.logger.Error("error rate count failed", slog.String("error", err.Error()))
		return 0
	}
	return float64(n) / m.rateWindow.Minutes()
}

func (m *Monitor) purge(ctx context.Context) {
	n, err := m.checkpoints.PurgeCheckpoints(ctx, time.Now().UTC().Add(-m.retention))
	if err != nil {
		m.logger.Error("checkpoint purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		m.logger.Info("purged expired checkpoints", slog.Int("count", n))
	}
}
