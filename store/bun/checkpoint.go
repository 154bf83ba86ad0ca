package bunstore

import (
	"context"
	"fmt"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/id"
)

// SaveCheckpoint persists cp as the latest snapshot for its experiment.
// The experiment ID is the primary key, so the upsert replaces any
// previous snapshot.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error {
	m := toCheckpointModel(cp)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (experiment_id) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("step = EXCLUDED.step").
		Set("sim_time = EXCLUDED.sim_time").
		Set("pose = EXCLUDED.pose").
		Set("motion = EXCLUDED.motion").
		Set("weather = EXCLUDED.weather").
		Set("traffic = EXCLUDED.traffic").
		Set("sensors = EXCLUDED.sensors").
		Set("created_at = EXCLUDED.created_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the latest snapshot for the experiment.
func (s *Store) LatestCheckpoint(ctx context.Context, expID id.ExperimentID) (*checkpoint.Checkpoint, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).
		Where("experiment_id = ?", expID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, cardream.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("cardream/bun: get checkpoint: %w", err)
	}
	return fromCheckpointModel(m)
}

// DeleteCheckpoint removes the experiment's snapshot, if any.
func (s *Store) DeleteCheckpoint(ctx context.Context, expID id.ExperimentID) error {
	_, err := s.db.NewDelete().
		TableExpr("cardream_checkpoints").
		Where("experiment_id = ?", expID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: delete checkpoint: %w", err)
	}
	return nil
}

// PurgeCheckpoints removes snapshots created before the cutoff.
func (s *Store) PurgeCheckpoints(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.NewDelete().
		TableExpr("cardream_checkpoints").
		Where("created_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("cardream/bun: purge checkpoints: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(rows), nil
}
