//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/event"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/schedule"
	bunstore "github.com/basedlsg/Car-Dream/store/bun"
)

// setupTestStore creates a Postgres container and returns a connected Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("cardream_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db, bunstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func testConfig(name string) experiment.Config {
	return experiment.Config{
		Name:     name,
		Scenario: experiment.Scenario{Route: "town02", TrafficDensity: 20},
		Model:    experiment.Model{Checkpoint: "ckpt/latest"},
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Experiment Store tests
// ──────────────────────────────────────────────────

func TestExperimentStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := experiment.New(testConfig("bun-create"))
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate should fail.
	if dupErr := s.CreateExperiment(ctx, exp); !errors.Is(dupErr, cardream.ErrExperimentAlreadyExists) {
		t.Fatalf("expected ErrExperimentAlreadyExists, got: %v", dupErr)
	}

	got, err := s.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "bun-create" {
		t.Fatalf("expected name bun-create, got %s", got.Name)
	}
	if got.Phase != experiment.PhaseInitialization {
		t.Fatalf("expected phase initialization, got %s", got.Phase)
	}

	cfg, err := s.GetConfig(ctx, exp.ID)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Scenario.Route != "town02" {
		t.Fatalf("expected route town02, got %s", cfg.Scenario.Route)
	}
}

func TestExperimentStore_PhaseAndResult(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := experiment.New(testConfig("bun-phases"))
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdatePhase(ctx, exp.ID, experiment.PhaseExecution); err != nil {
		t.Fatalf("update phase: %v", err)
	}
	if err := s.UpdateProgress(ctx, exp.ID, 0.5); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if err := s.StoreMetrics(ctx, exp.ID, map[string]float64{"collisions": 1}); err != nil {
		t.Fatalf("store metrics: %v", err)
	}
	// Merge: second write keeps the first key.
	if err := s.StoreMetrics(ctx, exp.ID, map[string]float64{"sim_time": 12.5}); err != nil {
		t.Fatalf("store metrics merge: %v", err)
	}
	if err := s.StoreArtifact(ctx, exp.ID, "s3://results/run-1.json"); err != nil {
		t.Fatalf("store artifact: %v", err)
	}
	if err := s.UpdateResult(ctx, exp.ID, &experiment.Result{Steps: 900, SafetyScore: 0.92}); err != nil {
		t.Fatalf("update result: %v", err)
	}
	if err := s.UpdatePhase(ctx, exp.ID, experiment.PhaseCompleted); err != nil {
		t.Fatalf("update phase terminal: %v", err)
	}

	got, err := s.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Progress != 0.5 {
		t.Fatalf("expected progress 0.5, got %v", got.Progress)
	}
	if got.Metrics["collisions"] != 1 || got.Metrics["sim_time"] != 12.5 {
		t.Fatalf("expected merged metrics, got %v", got.Metrics)
	}
	if len(got.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(got.Artifacts))
	}
	if got.Result == nil || got.Result.Steps != 900 {
		t.Fatalf("expected result steps 900, got %+v", got.Result)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be stamped")
	}
}

func TestExperimentStore_Fail(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := experiment.New(testConfig("bun-fail"))
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Fail(ctx, exp.ID, "backend crashed"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, err := s.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Phase != experiment.PhaseFailed {
		t.Fatalf("expected phase failed, got %s", got.Phase)
	}
	if got.Error != "backend crashed" {
		t.Fatalf("expected error message, got %q", got.Error)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be stamped")
	}
}

func TestExperimentStore_ListFiltersAndPaginates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		exp := experiment.New(testConfig(fmt.Sprintf("bun-list-%d", i)))
		if err := s.CreateExperiment(ctx, exp); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if i >= 3 {
			if err := s.UpdatePhase(ctx, exp.ID, experiment.PhaseCompleted); err != nil {
				t.Fatalf("update phase %d: %v", i, err)
			}
		}
	}

	completed, err := s.ListExperiments(ctx, experiment.ListOpts{Phase: experiment.PhaseCompleted})
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed, got %d", len(completed))
	}

	page, err := s.ListExperiments(ctx, experiment.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
}

// ──────────────────────────────────────────────────
// Checkpoint Store tests
// ──────────────────────────────────────────────────

func TestCheckpointStore_LatestWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := experiment.New(testConfig("bun-ckpt"))
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := checkpoint.New(exp.ID, 100)
	if err := s.SaveCheckpoint(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second := checkpoint.New(exp.ID, 250)
	if err := s.SaveCheckpoint(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := s.LatestCheckpoint(ctx, exp.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Step != 250 {
		t.Fatalf("expected step 250, got %d", got.Step)
	}

	if err = s.DeleteCheckpoint(ctx, exp.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, getErr := s.LatestCheckpoint(ctx, exp.ID)
	if !errors.Is(getErr, cardream.ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got: %v", getErr)
	}
}

func TestCheckpointStore_Purge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := experiment.New(testConfig("bun-purge"))
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create: %v", err)
	}

	cp := checkpoint.New(exp.ID, 10)
	cp.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	purged, err := s.PurgeCheckpoints(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
}

// ──────────────────────────────────────────────────
// Fault Store tests
// ──────────────────────────────────────────────────

func TestFaultStore_RecordsAndCounters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := experiment.New(testConfig("bun-fault"))
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := fault.NewRecord(exp.ID, fault.KindBackendCrash, "simulator process exited")
	if err := s.AppendRecord(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.UpdateRecoveryOutcome(ctx, rec.ID, true); err != nil {
		t.Fatalf("update outcome: %v", err)
	}

	records, err := s.ListRecords(ctx, exp.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if !records[0].RecoverySucceeded {
		t.Fatal("expected recovery_succeeded true")
	}

	count, err := s.CountRecordsSince(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recent record, got %d", count)
	}

	for want := 1; want <= 3; want++ {
		n, incErr := s.IncrementAttempts(ctx, exp.ID, fault.KindBackendCrash)
		if incErr != nil {
			t.Fatalf("increment: %v", incErr)
		}
		if n != want {
			t.Fatalf("expected attempts %d, got %d", want, n)
		}
	}

	n, err := s.Attempts(ctx, exp.ID, fault.KindBackendCrash)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}

	if err = s.ResetAttempts(ctx, exp.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, err = s.Attempts(ctx, exp.ID, fault.KindBackendCrash)
	if err != nil {
		t.Fatalf("attempts after reset: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 attempts after reset, got %d", n)
	}
}

// ──────────────────────────────────────────────────
// Event Store tests
// ──────────────────────────────────────────────────

func TestEventStore_PublishOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := experiment.New(testConfig("bun-events"))
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create: %v", err)
	}

	kinds := []string{event.KindExperimentSubmitted, event.KindPhaseCompleted, event.KindExperimentCompleted}
	for _, kind := range kinds {
		if err := s.PublishEvent(ctx, event.New(exp.ID, kind, map[string]any{"k": kind})); err != nil {
			t.Fatalf("publish %s: %v", kind, err)
		}
	}

	events, err := s.ListEvents(ctx, exp.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, kind := range kinds {
		if events[i].Kind != kind {
			t.Fatalf("event %d kind = %s, want %s", i, events[i].Kind, kind)
		}
	}
}

// ──────────────────────────────────────────────────
// Schedule Store tests
// ──────────────────────────────────────────────────

func TestScheduleStore_CRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := schedule.NewEntry("nightly", "0 9 * * *", testConfig("bun-sched"))
	if err := s.CreateSchedule(ctx, entry); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate name should fail.
	dup := schedule.NewEntry("nightly", "0 9 * * *", testConfig("bun-sched"))
	if dupErr := s.CreateSchedule(ctx, dup); !errors.Is(dupErr, cardream.ErrDuplicateSchedule) {
		t.Fatalf("expected ErrDuplicateSchedule, got: %v", dupErr)
	}

	got, err := s.GetSchedule(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Cron != "0 9 * * *" {
		t.Fatalf("expected cron expression, got %q", got.Cron)
	}

	now := time.Now().UTC()
	got.LastRunAt = &now
	got.Enabled = false
	if err = s.UpdateSchedule(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	entries, err := s.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Enabled {
		t.Fatal("expected entry disabled after update")
	}

	if err = s.DeleteSchedule(ctx, entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, getErr := s.GetSchedule(ctx, entry.ID)
	if !errors.Is(getErr, cardream.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got: %v", getErr)
	}
}
