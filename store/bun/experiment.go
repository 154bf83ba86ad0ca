package bunstore

import (
	"context"
	"fmt"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
)

// CreateExperiment persists a new experiment record.
func (s *Store) CreateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	m := toExperimentModel(exp)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return cardream.ErrExperimentAlreadyExists
		}
		return fmt.Errorf("cardream/bun: create experiment: %w", err)
	}
	return nil
}

// GetExperiment retrieves an experiment by ID.
func (s *Store) GetExperiment(ctx context.Context, expID id.ExperimentID) (*experiment.Experiment, error) {
	m := new(experimentModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", expID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, cardream.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("cardream/bun: get experiment: %w", err)
	}
	return fromExperimentModel(m)
}

// ListExperiments returns experiments matching the given options.
func (s *Store) ListExperiments(ctx context.Context, opts experiment.ListOpts) ([]*experiment.Experiment, error) {
	var models []experimentModel
	q := s.db.NewSelect().Model(&models).
		Order("created_at ASC")
	if opts.Phase != "" {
		q = q.Where("phase = ?", string(opts.Phase))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("cardream/bun: list experiments: %w", err)
	}

	result := make([]*experiment.Experiment, 0, len(models))
	for i := range models {
		exp, convErr := fromExperimentModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("cardream/bun: list experiments convert: %w", convErr)
		}
		result = append(result, exp)
	}
	return result, nil
}

// GetConfig returns the stored config for an experiment.
func (s *Store) GetConfig(ctx context.Context, expID id.ExperimentID) (*experiment.Config, error) {
	exp, err := s.GetExperiment(ctx, expID)
	if err != nil {
		return nil, err
	}
	cfg := exp.Config
	return &cfg, nil
}

// UpdatePhase durably records a phase transition. Terminal phases stamp
// completed_at once.
func (s *Store) UpdatePhase(ctx context.Context, expID id.ExperimentID, phase experiment.Phase) error {
	q := s.db.NewUpdate().
		TableExpr("cardream_experiments").
		Set("phase = ?", string(phase)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", expID.String())
	if phase.Terminal() {
		q = q.Set("completed_at = COALESCE(completed_at, ?)", time.Now().UTC())
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: update phase: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return cardream.ErrExperimentNotFound
	}
	return nil
}

// UpdateProgress records fractional progress in [0,1].
func (s *Store) UpdateProgress(ctx context.Context, expID id.ExperimentID, progress float64) error {
	res, err := s.db.NewUpdate().
		TableExpr("cardream_experiments").
		Set("progress = ?", progress).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", expID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: update progress: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return cardream.ErrExperimentNotFound
	}
	return nil
}

// UpdateResult stores the processed outcome of a run.
func (s *Store) UpdateResult(ctx context.Context, expID id.ExperimentID, result *experiment.Result) error {
	res, err := s.db.NewUpdate().
		TableExpr("cardream_experiments").
		Set("result = ?::jsonb", mustJSON(result)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", expID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: update result: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return cardream.ErrExperimentNotFound
	}
	return nil
}

// Fail marks the experiment Failed with a human-readable message.
func (s *Store) Fail(ctx context.Context, expID id.ExperimentID, msg string) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		TableExpr("cardream_experiments").
		Set("phase = ?", string(experiment.PhaseFailed)).
		Set("error = ?", msg).
		Set("completed_at = COALESCE(completed_at, ?)", now).
		Set("updated_at = ?", now).
		Where("id = ?", expID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: fail experiment: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return cardream.ErrExperimentNotFound
	}
	return nil
}

// StoreMetrics merges numeric metrics into the record, last value wins
// per key. The merge happens in SQL so concurrent flushes cannot drop
// keys.
func (s *Store) StoreMetrics(ctx context.Context, expID id.ExperimentID, metrics map[string]float64) error {
	res, err := s.db.NewUpdate().
		TableExpr("cardream_experiments").
		Set("metrics = COALESCE(metrics, '{}'::jsonb) || ?::jsonb", mustJSON(metrics)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", expID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: store metrics: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return cardream.ErrExperimentNotFound
	}
	return nil
}

// StoreArtifact appends an artifact reference.
func (s *Store) StoreArtifact(ctx context.Context, expID id.ExperimentID, ref string) error {
	res, err := s.db.NewUpdate().
		TableExpr("cardream_experiments").
		Set("artifacts = COALESCE(artifacts, '[]'::jsonb) || ?::jsonb", mustJSON([]string{ref})).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", expID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: store artifact: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return cardream.ErrExperimentNotFound
	}
	return nil
}

// StoreSummary replaces the free-form summary.
func (s *Store) StoreSummary(ctx context.Context, expID id.ExperimentID, summary map[string]any) error {
	res, err := s.db.NewUpdate().
		TableExpr("cardream_experiments").
		Set("summary = ?::jsonb", mustJSON(summary)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", expID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: store summary: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return cardream.ErrExperimentNotFound
	}
	return nil
}
