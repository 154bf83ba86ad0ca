package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/backend"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
	"github.com/basedlsg/Car-Dream/recovery"
	"github.com/basedlsg/Car-Dream/workflow"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig() cardream.Config {
	cfg := cardream.DefaultConfig()
	cfg.MaxConcurrentExperiments = 2
	cfg.StepInterval = 0
	cfg.StepErrorCeiling = 3
	cfg.CheckpointEvery = 3
	cfg.CallTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func validConfig(name string) experiment.Config {
	return experiment.Config{
		Name: name,
		Scenario: experiment.Scenario{
			Route:      "town04_loop",
			Weather:    experiment.WeatherClear,
			TimeBudget: 40 * time.Millisecond,
		},
		Model: experiment.Model{Checkpoint: "ckpt/dreamer-12"},
	}
}

// ── store fakes ──

type memExperiments struct {
	mu   sync.Mutex
	recs map[string]*experiment.Experiment
}

func newMemExperiments() *memExperiments {
	return &memExperiments{recs: make(map[string]*experiment.Experiment)}
}

func (s *memExperiments) get(expID id.ExperimentID) (*experiment.Experiment, error) {
	rec, ok := s.recs[expID.String()]
	if !ok {
		return nil, cardream.ErrExperimentNotFound
	}
	return rec, nil
}

func (s *memExperiments) CreateExperiment(_ context.Context, exp *experiment.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[exp.ID.String()]; ok {
		return cardream.ErrExperimentAlreadyExists
	}
	cp := *exp
	s.recs[exp.ID.String()] = &cp
	return nil
}

func (s *memExperiments) GetExperiment(_ context.Context, expID id.ExperimentID) (*experiment.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return nil, err
	}
	cp := *rec
	return &cp, nil
}

func (s *memExperiments) ListExperiments(_ context.Context, opts experiment.ListOpts) ([]*experiment.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*experiment.Experiment
	for _, rec := range s.recs {
		if opts.Phase != "" && rec.Phase != opts.Phase {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memExperiments) GetConfig(_ context.Context, expID id.ExperimentID) (*experiment.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return nil, err
	}
	cfg := rec.Config
	return &cfg, nil
}

func (s *memExperiments) UpdatePhase(_ context.Context, expID id.ExperimentID, phase experiment.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return err
	}
	rec.Phase = phase
	return nil
}

func (s *memExperiments) UpdateProgress(_ context.Context, expID id.ExperimentID, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return err
	}
	rec.Progress = progress
	return nil
}

func (s *memExperiments) UpdateResult(_ context.Context, expID id.ExperimentID, result *experiment.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return err
	}
	cp := *result
	rec.Result = &cp
	return nil
}

func (s *memExperiments) Fail(_ context.Context, expID id.ExperimentID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return err
	}
	rec.Phase = experiment.PhaseFailed
	rec.Error = msg
	return nil
}

func (s *memExperiments) StoreMetrics(_ context.Context, expID id.ExperimentID, metrics map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return err
	}
	if rec.Metrics == nil {
		rec.Metrics = make(map[string]float64, len(metrics))
	}
	for k, v := range metrics {
		rec.Metrics[k] = v
	}
	return nil
}

func (s *memExperiments) StoreArtifact(_ context.Context, expID id.ExperimentID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return err
	}
	rec.Artifacts = append(rec.Artifacts, ref)
	return nil
}

func (s *memExperiments) StoreSummary(_ context.Context, expID id.ExperimentID, summary map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(expID)
	if err != nil {
		return err
	}
	rec.Summary = summary
	return nil
}

type memCheckpoints struct {
	mu     sync.Mutex
	latest map[string]*checkpoint.Checkpoint
	saves  int
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{latest: make(map[string]*checkpoint.Checkpoint)}
}

func (s *memCheckpoints) SaveCheckpoint(_ context.Context, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[cp.ExperimentID.String()] = cp
	s.saves++
	return nil
}

func (s *memCheckpoints) LatestCheckpoint(_ context.Context, expID id.ExperimentID) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.latest[expID.String()]
	if !ok {
		return nil, cardream.ErrCheckpointNotFound
	}
	return cp, nil
}

func (s *memCheckpoints) DeleteCheckpoint(_ context.Context, expID id.ExperimentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, expID.String())
	return nil
}

func (s *memCheckpoints) PurgeCheckpoints(context.Context, time.Time) (int, error) {
	return 0, nil
}

type memFaults struct {
	mu       sync.Mutex
	records  []*fault.Record
	attempts map[string]int
}

func newMemFaults() *memFaults {
	return &memFaults{attempts: make(map[string]int)}
}

func (f *memFaults) AppendRecord(_ context.Context, rec *fault.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *memFaults) UpdateRecoveryOutcome(_ context.Context, faultID id.FaultID, succeeded bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID == faultID {
			rec.RecoverySucceeded = succeeded
			return nil
		}
	}
	return cardream.ErrEventNotFound
}

func (f *memFaults) ListRecords(_ context.Context, expID id.ExperimentID) ([]*fault.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fault.Record
	for _, rec := range f.records {
		if rec.ExperimentID == expID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *memFaults) CountRecordsSince(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *memFaults) IncrementAttempts(_ context.Context, expID id.ExperimentID, kind fault.Kind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := expID.String() + "/" + string(kind)
	f.attempts[key]++
	return f.attempts[key], nil
}

func (f *memFaults) Attempts(_ context.Context, expID id.ExperimentID, kind fault.Kind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[expID.String()+"/"+string(kind)], nil
}

func (f *memFaults) ResetAttempts(_ context.Context, expID id.ExperimentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := expID.String() + "/"
	for k := range f.attempts {
		if strings.HasPrefix(k, prefix) {
			delete(f.attempts, k)
		}
	}
	return nil
}

// ── backend fakes ──

// scriptSim is a scripted simulation backend. stateErrFrom injects a
// persistent GetState error starting at the given call number until
// Restore is called; stateErrEvery fails every Nth call.
type scriptSim struct {
	mu            sync.Mutex
	stateCalls    int
	stateErrFrom  int
	stateErrEvery int
	stateErr      error
	restores      int
	releases      int
}

func (s *scriptSim) AllocateSession(context.Context, experiment.Config) (id.SessionID, error) {
	return id.NewSessionID(), nil
}

func (s *scriptSim) Ping(context.Context) error { return nil }

func (s *scriptSim) GetState(context.Context, id.SessionID) (backend.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateCalls++
	if s.stateErrFrom > 0 && s.stateCalls >= s.stateErrFrom && s.restores == 0 {
		return nil, s.stateErr
	}
	if s.stateErrEvery > 0 && s.stateCalls%s.stateErrEvery == 0 {
		return nil, s.stateErr
	}
	return backend.State{"pos_x": 10.5, "pos_y": -3.0, "yaw": 90.0}, nil
}

func (s *scriptSim) ApplyAction(context.Context, id.SessionID, backend.Action) error { return nil }

func (s *scriptSim) GetStepMetrics(context.Context, id.SessionID) (map[string]float64, error) {
	return map[string]float64{"collisions": 0, "sim_time": 1.5}, nil
}

func (s *scriptSim) Restore(context.Context, id.SessionID, *checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restores++
	return nil
}

func (s *scriptSim) ReleaseSession(context.Context, id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	return nil
}

type scriptDec struct {
	mu       sync.Mutex
	err      error
	releases int
}

func (d *scriptDec) AllocateSession(context.Context, experiment.Config) (id.SessionID, error) {
	return id.NewSessionID(), nil
}

func (d *scriptDec) Ping(context.Context) error { return nil }

func (d *scriptDec) GetDecision(context.Context, id.SessionID, backend.State) (backend.Action, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return backend.Action{"throttle": 0.4}, nil
}

func (d *scriptDec) ReleaseSession(context.Context, id.SessionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	return nil
}

type fixture struct {
	orch        *workflow.Orchestrator
	experiments *memExperiments
	checkpoints *memCheckpoints
	faults      *memFaults
	sim         *scriptSim
	dec         *scriptDec
}

func newFixture(cfg cardream.Config, sim *scriptSim, dec *scriptDec) *fixture {
	experiments := newMemExperiments()
	checkpoints := newMemCheckpoints()
	faults := newMemFaults()

	dispatcher := recovery.NewDispatcher(faults, checkpoints, sim, &nopSupervisor{},
		recovery.WithLogger(testLogger),
		recovery.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	orch := workflow.NewOrchestrator(cfg, experiments, checkpoints, faults, sim, dec, dispatcher,
		workflow.WithLogger(testLogger),
	)
	return &fixture{orch, experiments, checkpoints, faults, sim, dec}
}

type nopSupervisor struct{}

func (nopSupervisor) Restart(context.Context, string) error   { return nil }
func (nopSupervisor) ScaleDown(context.Context, string) error { return nil }

func waitTerminal(t *testing.T, f *fixture, expID id.ExperimentID) *experiment.Experiment {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exp, err := f.orch.Status(context.Background(), expID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if exp.Phase.Terminal() {
			// Let the workflow goroutine finish its bookkeeping.
			_ = f.orch.Shutdown(context.Background())
			return exp
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("experiment did not reach a terminal phase")
	return nil
}

// ── scenarios ──

func TestHappyPath(t *testing.T) {
	sim := &scriptSim{}
	dec := &scriptDec{}
	f := newFixture(testConfig(), sim, dec)

	expID, err := f.orch.Start(context.Background(), validConfig("happy"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	exp := waitTerminal(t, f, expID)
	if exp.Phase != experiment.PhaseCompleted {
		t.Fatalf("phase = %s, want %s (error: %s)", exp.Phase, experiment.PhaseCompleted, exp.Error)
	}
	if exp.Result == nil || exp.Result.Steps == 0 {
		t.Fatalf("result = %+v, want steps > 0", exp.Result)
	}
	if exp.Result.SafetyScore != 1 {
		t.Errorf("safety score = %v, want 1 with zero collisions", exp.Result.SafetyScore)
	}
	if exp.Result.Incomplete {
		t.Error("result marked incomplete with full metrics")
	}
	if exp.Progress != 1 {
		t.Errorf("progress = %v, want 1", exp.Progress)
	}
	if f.checkpoints.saves == 0 {
		t.Error("no checkpoints saved during execution")
	}
	if sim.releases == 0 || dec.releases == 0 {
		t.Errorf("sessions not released: sim %d dec %d", sim.releases, dec.releases)
	}
	if f.orch.Active() != 0 {
		t.Errorf("Active() = %d after completion", f.orch.Active())
	}
}

func TestSimulationErrorRecoversFromCheckpoint(t *testing.T) {
	sim := &scriptSim{
		stateErrFrom: 20,
		stateErr:     fmt.Errorf("%w: actor destroyed", cardream.ErrSimulation),
	}
	dec := &scriptDec{}
	f := newFixture(testConfig(), sim, dec)

	expID, err := f.orch.Start(context.Background(), validConfig("restore"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	exp := waitTerminal(t, f, expID)
	if exp.Phase != experiment.PhaseCompleted {
		t.Fatalf("phase = %s, want %s (error: %s)", exp.Phase, experiment.PhaseCompleted, exp.Error)
	}
	if sim.restores != 1 {
		t.Errorf("restores = %d, want 1", sim.restores)
	}

	recs, _ := f.faults.ListRecords(context.Background(), expID)
	var found bool
	for _, rec := range recs {
		if rec.Kind == fault.KindSimulationError && rec.RecoveryAttempted && rec.RecoverySucceeded {
			found = true
			if rec.RecoveryStrategy != recovery.StrategyRestoreCheckpoint {
				t.Errorf("strategy = %q", rec.RecoveryStrategy)
			}
		}
	}
	if !found {
		t.Errorf("no successful simulation_error recovery record, got %d records", len(recs))
	}
}

func TestExhaustedBudgetFailsExperiment(t *testing.T) {
	sim := &scriptSim{}
	dec := &scriptDec{err: fmt.Errorf("decision: %w", context.DeadlineExceeded)}
	f := newFixture(testConfig(), sim, dec)

	expID, err := f.orch.Start(context.Background(), validConfig("doomed"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	exp := waitTerminal(t, f, expID)
	if exp.Phase != experiment.PhaseFailed {
		t.Fatalf("phase = %s, want %s", exp.Phase, experiment.PhaseFailed)
	}
	if !strings.Contains(exp.Error, string(fault.KindBackendTimeout)) {
		t.Errorf("error = %q, want it to name %q", exp.Error, fault.KindBackendTimeout)
	}

	// Two wait-retry attempts, then one exhausted dispatch, every one
	// recorded.
	recs, _ := f.faults.ListRecords(context.Background(), expID)
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	if recs[2].RecoveryAttempted {
		t.Error("final record marked attempted past the budget")
	}
	if sim.releases == 0 {
		t.Error("failed experiment left its simulation session allocated")
	}
}

func TestConcurrentExperimentsAreIsolated(t *testing.T) {
	sim := &scriptSim{}
	dec := &scriptDec{}
	f := newFixture(testConfig(), sim, dec)

	a, err := f.orch.Start(context.Background(), validConfig("exp-a"))
	if err != nil {
		t.Fatalf("Start a: %v", err)
	}
	b, err := f.orch.Start(context.Background(), validConfig("exp-b"))
	if err != nil {
		t.Fatalf("Start b: %v", err)
	}

	// At capacity: a third submission is rejected without queueing.
	if _, err := f.orch.Start(context.Background(), validConfig("exp-c")); !errors.Is(err, cardream.ErrTooManyExperiments) {
		t.Fatalf("third Start err = %v, want ErrTooManyExperiments", err)
	}

	if err := f.orch.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, expID := range []id.ExperimentID{a, b} {
		exp, err := f.orch.Status(context.Background(), expID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if exp.Phase != experiment.PhaseCompleted {
			t.Errorf("%s: phase = %s (error: %s)", exp.Name, exp.Phase, exp.Error)
		}
		if exp.Result == nil || exp.Result.Steps == 0 {
			t.Errorf("%s: result = %+v", exp.Name, exp.Result)
		}
	}
}

func TestZeroTimeBudgetSkipsExecution(t *testing.T) {
	sim := &scriptSim{}
	dec := &scriptDec{}
	f := newFixture(testConfig(), sim, dec)

	cfg := validConfig("zero-budget")
	cfg.Scenario.TimeBudget = 0
	expID, err := f.orch.Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	exp := waitTerminal(t, f, expID)
	if exp.Phase != experiment.PhaseCompleted {
		t.Fatalf("phase = %s, want %s (error: %s)", exp.Phase, experiment.PhaseCompleted, exp.Error)
	}
	if exp.Result == nil {
		t.Fatal("no result stored")
	}
	if exp.Result.Steps != 0 {
		t.Errorf("steps = %d, want 0 for a zero time budget", exp.Result.Steps)
	}
	if !exp.Result.Incomplete {
		t.Error("result not marked incomplete without any steps")
	}
	if sim.stateCalls != 0 {
		t.Errorf("stateCalls = %d, want 0 for a zero time budget", sim.stateCalls)
	}
}

func TestStepErrorCeilingCountsIntermittentErrors(t *testing.T) {
	// Every other state fetch fails. Errors interleaved with successes
	// must still accumulate toward the ceiling within one Execution
	// attempt.
	sim := &scriptSim{
		stateErrEvery: 2,
		stateErr:      errors.New("sensor stream glitch"),
	}
	dec := &scriptDec{}
	f := newFixture(testConfig(), sim, dec)

	expID, err := f.orch.Start(context.Background(), validConfig("flaky-steps"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	exp := waitTerminal(t, f, expID)
	if exp.Phase != experiment.PhaseFailed {
		t.Fatalf("phase = %s, want %s", exp.Phase, experiment.PhaseFailed)
	}
	if !strings.Contains(exp.Error, "step errors") {
		t.Errorf("error = %q, want it to name the step error ceiling", exp.Error)
	}
}

func TestCancelMidExecution(t *testing.T) {
	cfg := testConfig()
	cfg.StepInterval = time.Millisecond
	sim := &scriptSim{}
	dec := &scriptDec{}
	f := newFixture(cfg, sim, dec)

	expCfg := validConfig("cancel-me")
	expCfg.Scenario.TimeBudget = 10 * time.Second
	expID, err := f.orch.Start(context.Background(), expCfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the hot loop to begin.
	deadline := time.Now().Add(5 * time.Second)
	for {
		exp, err := f.orch.Status(context.Background(), expID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if exp.Phase == experiment.PhaseExecution {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never reached execution, phase = %s", exp.Phase)
		}
		time.Sleep(time.Millisecond)
	}

	if err := f.orch.Cancel(context.Background(), expID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// Cancelling again is a no-op.
	if err := f.orch.Cancel(context.Background(), expID); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}

	exp := waitTerminal(t, f, expID)
	if exp.Phase != experiment.PhaseCancelled {
		t.Fatalf("phase = %s, want %s", exp.Phase, experiment.PhaseCancelled)
	}
	if sim.releases == 0 || dec.releases == 0 {
		t.Errorf("sessions not released: sim %d dec %d", sim.releases, dec.releases)
	}

	// Terminal experiments cannot be cancelled.
	if err := f.orch.Cancel(context.Background(), expID); !errors.Is(err, cardream.ErrExperimentNotActive) {
		t.Errorf("Cancel terminal err = %v, want ErrExperimentNotActive", err)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	f := newFixture(testConfig(), &scriptSim{}, &scriptDec{})

	cfg := validConfig("bad")
	cfg.Scenario.Route = ""
	if _, err := f.orch.Start(context.Background(), cfg); !errors.Is(err, cardream.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if f.orch.Active() != 0 {
		t.Errorf("Active() = %d after rejected start", f.orch.Active())
	}
}

func TestResume(t *testing.T) {
	sim := &scriptSim{}
	dec := &scriptDec{}
	f := newFixture(testConfig(), sim, dec)

	// A run left mid-flight by a previous process.
	exp := experiment.New(validConfig("orphan"))
	exp.Phase = experiment.PhaseExecution
	if err := f.experiments.CreateExperiment(context.Background(), exp); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}

	if err := f.orch.Resume(context.Background(), exp.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got := waitTerminal(t, f, exp.ID)
	if got.Phase != experiment.PhaseCompleted {
		t.Fatalf("phase = %s, want %s (error: %s)", got.Phase, experiment.PhaseCompleted, got.Error)
	}

	// Terminal experiments cannot be resumed.
	if err := f.orch.Resume(context.Background(), exp.ID); !errors.Is(err, cardream.ErrExperimentNotActive) {
		t.Errorf("Resume terminal err = %v, want ErrExperimentNotActive", err)
	}
}
