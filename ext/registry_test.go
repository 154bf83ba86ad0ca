package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/ext"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnExperimentStarted(_ context.Context, _ *experiment.Experiment) error {
	e.calls = append(e.calls, "OnExperimentStarted")
	return nil
}

func (e *allHooksExt) OnPhaseStarted(_ context.Context, _ *experiment.Experiment, _ experiment.Phase) error {
	e.calls = append(e.calls, "OnPhaseStarted")
	return nil
}

func (e *allHooksExt) OnPhaseCompleted(_ context.Context, _ *experiment.Experiment, _ experiment.Phase, _ time.Duration) error {
	e.calls = append(e.calls, "OnPhaseCompleted")
	return nil
}

func (e *allHooksExt) OnPhaseFailed(_ context.Context, _ *experiment.Experiment, _ experiment.Phase, _ error) error {
	e.calls = append(e.calls, "OnPhaseFailed")
	return nil
}

func (e *allHooksExt) OnRecoveryAttempted(_ context.Context, _ *fault.Record) error {
	e.calls = append(e.calls, "OnRecoveryAttempted")
	return nil
}

func (e *allHooksExt) OnExperimentCompleted(_ context.Context, _ *experiment.Experiment, _ time.Duration) error {
	e.calls = append(e.calls, "OnExperimentCompleted")
	return nil
}

func (e *allHooksExt) OnExperimentFailed(_ context.Context, _ *experiment.Experiment, _ error) error {
	e.calls = append(e.calls, "OnExperimentFailed")
	return nil
}

func (e *allHooksExt) OnExperimentCancelled(_ context.Context, _ *experiment.Experiment) error {
	e.calls = append(e.calls, "OnExperimentCancelled")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// phaseOnlyExt only implements phase-related hooks.
type phaseOnlyExt struct {
	calls []string
}

func (e *phaseOnlyExt) Name() string { return "phase-only" }

func (e *phaseOnlyExt) OnPhaseStarted(_ context.Context, _ *experiment.Experiment, _ experiment.Phase) error {
	e.calls = append(e.calls, "OnPhaseStarted")
	return nil
}

func (e *phaseOnlyExt) OnPhaseCompleted(_ context.Context, _ *experiment.Experiment, _ experiment.Phase, _ time.Duration) error {
	e.calls = append(e.calls, "OnPhaseCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnPhaseStarted(_ context.Context, _ *experiment.Experiment, _ experiment.Phase) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func testExperiment() *experiment.Experiment {
	return experiment.New(experiment.Config{
		Name:     "t",
		Scenario: experiment.Scenario{Route: "town01"},
		Model:    experiment.Model{Checkpoint: "ckpt/x"},
	})
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	po := &phaseOnlyExt{}
	r.Register(all)
	r.Register(po)

	ctx := context.Background()
	exp := testExperiment()

	// Both implement OnPhaseStarted → both called.
	r.EmitPhaseStarted(ctx, exp, experiment.PhaseInitialization)
	if len(all.calls) != 1 || all.calls[0] != "OnPhaseStarted" {
		t.Fatalf("all: expected [OnPhaseStarted], got %v", all.calls)
	}
	if len(po.calls) != 1 || po.calls[0] != "OnPhaseStarted" {
		t.Fatalf("po: expected [OnPhaseStarted], got %v", po.calls)
	}

	// Only all implements OnExperimentStarted → po not called.
	r.EmitExperimentStarted(ctx, exp)
	if len(all.calls) != 2 || all.calls[1] != "OnExperimentStarted" {
		t.Fatalf("all: expected OnExperimentStarted as 2nd, got %v", all.calls)
	}
	if len(po.calls) != 1 {
		t.Fatalf("po: should still have 1 call, got %v", po.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	exp := testExperiment()
	rec := fault.NewRecord(id.NewExperimentID(), fault.KindNetworkError, "x")

	r.EmitExperimentStarted(ctx, exp)
	r.EmitPhaseStarted(ctx, exp, experiment.PhaseExecution)
	r.EmitPhaseCompleted(ctx, exp, experiment.PhaseExecution, time.Second)
	r.EmitPhaseFailed(ctx, exp, experiment.PhaseExecution, errors.New("fail"))
	r.EmitRecoveryAttempted(ctx, rec)
	r.EmitExperimentCompleted(ctx, exp, time.Minute)
	r.EmitExperimentFailed(ctx, exp, errors.New("fail"))
	r.EmitExperimentCancelled(ctx, exp)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnExperimentStarted", "OnPhaseStarted", "OnPhaseCompleted",
		"OnPhaseFailed", "OnRecoveryAttempted", "OnExperimentCompleted",
		"OnExperimentFailed", "OnExperimentCancelled", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitPhaseStarted(ctx, testExperiment(), experiment.PhaseInitialization)

	if len(all.calls) != 1 || all.calls[0] != "OnPhaseStarted" {
		t.Fatalf("all: expected [OnPhaseStarted] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()
	exp := testExperiment()

	// None of these should panic or error.
	r.EmitExperimentStarted(ctx, exp)
	r.EmitPhaseStarted(ctx, exp, experiment.PhaseInitialization)
	r.EmitPhaseCompleted(ctx, exp, experiment.PhaseInitialization, time.Second)
	r.EmitPhaseFailed(ctx, exp, experiment.PhaseInitialization, errors.New("x"))
	r.EmitRecoveryAttempted(ctx, fault.NewRecord(id.NewExperimentID(), fault.KindUnclassified, "x"))
	r.EmitExperimentCompleted(ctx, exp, time.Second)
	r.EmitExperimentFailed(ctx, exp, errors.New("x"))
	r.EmitExperimentCancelled(ctx, exp)
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ext1 := &allHooksExt{}
	ext2 := &allHooksExt{}
	r.Register(ext1)
	r.Register(ext2)

	ctx := context.Background()
	r.EmitExperimentStarted(ctx, testExperiment())

	// Both should be called.
	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
