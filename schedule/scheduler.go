package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
)

// LaunchFunc starts an experiment from a config. The orchestrator
// provides the implementation; the indirection breaks the import cycle.
type LaunchFunc func(ctx context.Context, cfg experiment.Config) (id.ExperimentID, error)

// cronParser supports standard 5-field cron and descriptors like
// "@every 6h".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCron parses a cron expression.
func ParseCron(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler fires due entries on a tick loop.
type Scheduler struct {
	store  Store
	launch LaunchFunc
	logger *slog.Logger

	tickInterval time.Duration

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a Scheduler over the given store and launcher.
func NewScheduler(store Store, launch LaunchFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		launch:       launch,
		logger:       slog.Default(),
		tickInterval: 30 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register validates and persists an entry, stamping its first NextRunAt.
func (s *Scheduler) Register(ctx context.Context, entry *Entry) error {
	if err := entry.Config.Validate(); err != nil {
		return err
	}
	sched, err := s.getOrParse(entry.Cron)
	if err != nil {
		return fmt.Errorf("%w: cron %q: %v", cardream.ErrInvalidConfig, entry.Cron, err)
	}
	next := sched.Next(time.Now().UTC())
	entry.NextRunAt = &next
	if err := s.store.CreateSchedule(ctx, entry); err != nil {
		return err
	}
	s.logger.Info("schedule registered",
		slog.String("schedule_id", entry.ID.String()),
		slog.String("name", entry.Name),
		slog.String("cron", entry.Cron),
		slog.Time("next_run_at", next),
	)
	return nil
}

// Enable flips an entry's enabled flag.
func (s *Scheduler) Enable(ctx context.Context, entryID id.ScheduleID, enabled bool) error {
	entry, err := s.store.GetSchedule(ctx, entryID)
	if err != nil {
		return err
	}
	entry.Enabled = enabled
	entry.Touch()
	return s.store.UpdateSchedule(ctx, entry)
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.logger.Info("scheduler starting", slog.Duration("tick_interval", s.tickInterval))
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop signals the loop to stop and waits for it to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every due entry once. The loop calls it on every tick;
// tests invoke it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	entries, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("list schedules error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, entry, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) {
	expID, err := s.launch(ctx, entry.Config)
	if err != nil {
		// Leave NextRunAt in the past so the next tick retries.
		s.logger.Error("scheduled launch failed",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("name", entry.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	entry.LastRunAt = &now
	sched, parseErr := s.getOrParse(entry.Cron)
	if parseErr != nil {
		s.logger.Error("parse cron error",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("cron", entry.Cron),
			slog.String("error", parseErr.Error()),
		)
	} else {
		next := sched.Next(now)
		entry.NextRunAt = &next
	}
	entry.Touch()
	if err := s.store.UpdateSchedule(ctx, entry); err != nil {
		s.logger.Error("update schedule error",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("schedule fired",
		slog.String("schedule_id", entry.ID.String()),
		slog.String("name", entry.Name),
		slog.String("experiment_id", expID.String()),
	)
}

func (s *Scheduler) getOrParse(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
