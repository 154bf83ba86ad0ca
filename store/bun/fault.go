package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
)

// AppendRecord appends a failure record.
func (s *Store) AppendRecord(ctx context.Context, rec *fault.Record) error {
	m := toFaultModel(rec)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: append record: %w", err)
	}
	return nil
}

// UpdateRecoveryOutcome records the recovery action's own success or
// failure onto an existing record.
func (s *Store) UpdateRecoveryOutcome(ctx context.Context, faultID id.FaultID, succeeded bool) error {
	_, err := s.db.NewUpdate().
		TableExpr("cardream_faults").
		Set("recovery_succeeded = ?", succeeded).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", faultID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: update recovery outcome: %w", err)
	}
	return nil
}

// ListRecords returns all records for an experiment in append order.
func (s *Store) ListRecords(ctx context.Context, expID id.ExperimentID) ([]*fault.Record, error) {
	var models []faultModel
	err := s.db.NewSelect().Model(&models).
		Where("experiment_id = ?", expID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: list records: %w", err)
	}

	result := make([]*fault.Record, 0, len(models))
	for i := range models {
		rec, convErr := fromFaultModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("cardream/bun: list records convert: %w", convErr)
		}
		result = append(result, rec)
	}
	return result, nil
}

// CountRecordsSince counts records across all experiments that occurred
// at or after the cutoff.
func (s *Store) CountRecordsSince(ctx context.Context, since time.Time) (int, error) {
	count, err := s.db.NewSelect().
		TableExpr("cardream_faults").
		Where("occurred_at >= ?", since).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("cardream/bun: count records: %w", err)
	}
	return count, nil
}

// IncrementAttempts bumps the (experiment, kind) counter and returns
// the new value.
func (s *Store) IncrementAttempts(ctx context.Context, expID id.ExperimentID, kind fault.Kind) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cardream_recovery_attempts (experiment_id, kind, count)
		VALUES (?, ?, 1)
		ON CONFLICT (experiment_id, kind)
		DO UPDATE SET count = cardream_recovery_attempts.count + 1
		RETURNING count
	`, expID.String(), string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("cardream/bun: increment attempts: %w", err)
	}
	return count, nil
}

// Attempts returns the current (experiment, kind) counter.
func (s *Store) Attempts(ctx context.Context, expID id.ExperimentID, kind fault.Kind) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM cardream_recovery_attempts
		WHERE experiment_id = ? AND kind = ?
	`, expID.String(), string(kind)).Scan(&count)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cardream/bun: get attempts: %w", err)
	}
	return count, nil
}

// ResetAttempts clears all counters for an experiment.
func (s *Store) ResetAttempts(ctx context.Context, expID id.ExperimentID) error {
	_, err := s.db.NewDelete().
		TableExpr("cardream_recovery_attempts").
		Where("experiment_id = ?", expID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: reset attempts: %w", err)
	}
	return nil
}
