// Package memory provides a fully in-memory store backend for
// development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/event"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
	"github.com/basedlsg/Car-Dream/schedule"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ experiment.Store = (*Store)(nil)
	_ checkpoint.Store = (*Store)(nil)
	_ fault.Store      = (*Store)(nil)
	_ event.Store      = (*Store)(nil)
	_ schedule.Store   = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	experiments map[string]*experiment.Experiment
	checkpoints map[string]*checkpoint.Checkpoint // key: experiment ID, latest only
	records     map[string][]*fault.Record        // key: experiment ID, append order
	attempts    map[string]int                    // key: "expID/kind"
	events      map[string][]*event.Event         // key: experiment ID, publish order
	schedules   map[string]*schedule.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		experiments: make(map[string]*experiment.Experiment),
		checkpoints: make(map[string]*checkpoint.Checkpoint),
		records:     make(map[string][]*fault.Record),
		attempts:    make(map[string]int),
		events:      make(map[string][]*event.Event),
		schedules:   make(map[string]*schedule.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close(_ context.Context) error { return nil }

// ──────────────────────────────────────────────────
// Experiment Store
// ──────────────────────────────────────────────────

// CreateExperiment persists a new experiment record.
func (m *Store) CreateExperiment(_ context.Context, exp *experiment.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := exp.ID.String()
	if _, exists := m.experiments[key]; exists {
		return cardream.ErrExperimentAlreadyExists
	}
	cp := *exp
	m.experiments[key] = &cp
	return nil
}

// GetExperiment retrieves an experiment by ID.
func (m *Store) GetExperiment(_ context.Context, expID id.ExperimentID) (*experiment.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return nil, cardream.ErrExperimentNotFound
	}
	cp := *exp
	return &cp, nil
}

// ListExperiments returns experiments matching the given options.
func (m *Store) ListExperiments(_ context.Context, opts experiment.ListOpts) ([]*experiment.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*experiment.Experiment, 0, len(m.experiments))
	for _, exp := range m.experiments {
		if opts.Phase != "" && exp.Phase != opts.Phase {
			continue
		}
		cp := *exp
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetConfig returns the stored config for an experiment.
func (m *Store) GetConfig(_ context.Context, expID id.ExperimentID) (*experiment.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return nil, cardream.ErrExperimentNotFound
	}
	cfg := exp.Config
	return &cfg, nil
}

// UpdatePhase durably records a phase transition.
func (m *Store) UpdatePhase(_ context.Context, expID id.ExperimentID, phase experiment.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return cardream.ErrExperimentNotFound
	}
	exp.Phase = phase
	if phase.Terminal() && exp.CompletedAt == nil {
		now := time.Now().UTC()
		exp.CompletedAt = &now
	}
	exp.Touch()
	return nil
}

// UpdateProgress records fractional progress in [0,1].
func (m *Store) UpdateProgress(_ context.Context, expID id.ExperimentID, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return cardream.ErrExperimentNotFound
	}
	exp.Progress = progress
	exp.Touch()
	return nil
}

// UpdateResult stores the processed outcome of a run.
func (m *Store) UpdateResult(_ context.Context, expID id.ExperimentID, result *experiment.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return cardream.ErrExperimentNotFound
	}
	cp := *result
	exp.Result = &cp
	exp.Touch()
	return nil
}

// Fail marks the experiment Failed with a human-readable message.
func (m *Store) Fail(_ context.Context, expID id.ExperimentID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return cardream.ErrExperimentNotFound
	}
	exp.Phase = experiment.PhaseFailed
	exp.Error = msg
	if exp.CompletedAt == nil {
		now := time.Now().UTC()
		exp.CompletedAt = &now
	}
	exp.Touch()
	return nil
}

// StoreMetrics merges numeric metrics into the record, last value wins
// per key.
func (m *Store) StoreMetrics(_ context.Context, expID id.ExperimentID, metrics map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return cardream.ErrExperimentNotFound
	}
	if exp.Metrics == nil {
		exp.Metrics = make(map[string]float64, len(metrics))
	}
	for k, v := range metrics {
		exp.Metrics[k] = v
	}
	exp.Touch()
	return nil
}

// StoreArtifact appends an artifact reference.
func (m *Store) StoreArtifact(_ context.Context, expID id.ExperimentID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return cardream.ErrExperimentNotFound
	}
	exp.Artifacts = append(exp.Artifacts, ref)
	exp.Touch()
	return nil
}

// StoreSummary replaces the free-form summary.
func (m *Store) StoreSummary(_ context.Context, expID id.ExperimentID, summary map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[expID.String()]
	if !ok {
		return cardream.ErrExperimentNotFound
	}
	exp.Summary = summary
	exp.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// Checkpoint Store
// ──────────────────────────────────────────────────

// SaveCheckpoint persists cp as the latest snapshot for its experiment,
// replacing any previous one.
func (m *Store) SaveCheckpoint(_ context.Context, cp *checkpoint.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cp
	m.checkpoints[cp.ExperimentID.String()] = &c
	return nil
}

// LatestCheckpoint returns the latest snapshot for the experiment.
func (m *Store) LatestCheckpoint(_ context.Context, expID id.ExperimentID) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[expID.String()]
	if !ok {
		return nil, cardream.ErrCheckpointNotFound
	}
	c := *cp
	return &c, nil
}

// DeleteCheckpoint removes the experiment's snapshot, if any.
func (m *Store) DeleteCheckpoint(_ context.Context, expID id.ExperimentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checkpoints, expID.String())
	return nil
}

// PurgeCheckpoints removes snapshots created before the cutoff.
func (m *Store) PurgeCheckpoints(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, cp := range m.checkpoints {
		if cp.CreatedAt.Before(olderThan) {
			delete(m.checkpoints, key)
			evicted++
		}
	}
	return evicted, nil
}

// ──────────────────────────────────────────────────
// Fault Store
// ──────────────────────────────────────────────────

// attemptKey builds a composite map key for a recovery-attempt counter.
func attemptKey(expID id.ExperimentID, kind fault.Kind) string {
	return expID.String() + "/" + string(kind)
}

// AppendRecord appends a failure record.
func (m *Store) AppendRecord(_ context.Context, rec *fault.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	key := rec.ExperimentID.String()
	m.records[key] = append(m.records[key], &cp)
	return nil
}

// UpdateRecoveryOutcome records the recovery action's own success or
// failure onto an existing record.
func (m *Store) UpdateRecoveryOutcome(_ context.Context, faultID id.FaultID, succeeded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, recs := range m.records {
		for _, rec := range recs {
			if rec.ID == faultID {
				rec.RecoverySucceeded = succeeded
				rec.Touch()
				return nil
			}
		}
	}
	return nil
}

// ListRecords returns all records for an experiment in append order.
func (m *Store) ListRecords(_ context.Context, expID id.ExperimentID) ([]*fault.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[expID.String()]
	result := make([]*fault.Record, len(recs))
	for i, rec := range recs {
		cp := *rec
		result[i] = &cp
	}
	return result, nil
}

// CountRecordsSince counts records across all experiments that occurred
// at or after the cutoff.
func (m *Store) CountRecordsSince(_ context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, recs := range m.records {
		for _, rec := range recs {
			if !rec.OccurredAt.Before(since) {
				count++
			}
		}
	}
	return count, nil
}

// IncrementAttempts bumps the (experiment, kind) counter.
func (m *Store) IncrementAttempts(_ context.Context, expID id.ExperimentID, kind fault.Kind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := attemptKey(expID, kind)
	m.attempts[key]++
	return m.attempts[key], nil
}

// Attempts returns the current (experiment, kind) counter.
func (m *Store) Attempts(_ context.Context, expID id.ExperimentID, kind fault.Kind) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.attempts[attemptKey(expID, kind)], nil
}

// ResetAttempts clears all counters for an experiment.
func (m *Store) ResetAttempts(_ context.Context, expID id.ExperimentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := expID.String() + "/"
	for key := range m.attempts {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.attempts, key)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	key := evt.ExperimentID.String()
	m.events[key] = append(m.events[key], &cp)
	return nil
}

// ListEvents returns all events for an experiment in publish order.
func (m *Store) ListEvents(_ context.Context, expID id.ExperimentID) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evts := m.events[expID.String()]
	result := make([]*event.Event, len(evts))
	for i, evt := range evts {
		cp := *evt
		result[i] = &cp
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Schedule Store
// ──────────────────────────────────────────────────

// CreateSchedule persists a new entry.
func (m *Store) CreateSchedule(_ context.Context, entry *schedule.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check for duplicate name.
	for _, e := range m.schedules {
		if e.Name == entry.Name {
			return cardream.ErrDuplicateSchedule
		}
	}

	cp := *entry
	m.schedules[entry.ID.String()] = &cp
	return nil
}

// GetSchedule retrieves an entry by ID.
func (m *Store) GetSchedule(_ context.Context, entryID id.ScheduleID) (*schedule.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.schedules[entryID.String()]
	if !ok {
		return nil, cardream.ErrScheduleNotFound
	}
	cp := *e
	return &cp, nil
}

// ListSchedules returns all entries.
func (m *Store) ListSchedules(_ context.Context) ([]*schedule.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*schedule.Entry, 0, len(m.schedules))
	for _, e := range m.schedules {
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// UpdateSchedule updates an entry (Enabled, run timestamps).
func (m *Store) UpdateSchedule(_ context.Context, entry *schedule.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.schedules[key]; !ok {
		return cardream.ErrScheduleNotFound
	}
	cp := *entry
	cp.Touch()
	m.schedules[key] = &cp
	return nil
}

// DeleteSchedule removes an entry by ID.
func (m *Store) DeleteSchedule(_ context.Context, entryID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.schedules[key]; !ok {
		return cardream.ErrScheduleNotFound
	}
	delete(m.schedules, key)
	return nil
}
