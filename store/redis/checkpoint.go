package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/id"
)

// SaveCheckpoint persists cp as the latest snapshot for its experiment,
// replacing any previous one. The retention index tracks creation time
// for purges.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error {
	eID := cp.ExperimentID.String()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, checkpointKey(eID), marshalJSON(cp), 0)
	pipe.ZAdd(ctx, checkpointIndexKey, goredis.Z{
		Score:  float64(cp.CreatedAt.Unix()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cardream/redis: save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the latest snapshot for the experiment.
func (s *Store) LatestCheckpoint(ctx context.Context, expID id.ExperimentID) (*checkpoint.Checkpoint, error) {
	raw, err := s.client.Get(ctx, checkpointKey(expID.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cardream.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("cardream/redis: get checkpoint: %w", err)
	}

	var cp checkpoint.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, fmt.Errorf("cardream/redis: decode checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes the experiment's snapshot, if any.
func (s *Store) DeleteCheckpoint(ctx context.Context, expID id.ExperimentID) error {
	eID := expID.String()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, checkpointKey(eID))
	pipe.ZRem(ctx, checkpointIndexKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cardream/redis: delete checkpoint: %w", err)
	}
	return nil
}

// PurgeCheckpoints removes snapshots created before the cutoff.
func (s *Store) PurgeCheckpoints(ctx context.Context, olderThan time.Time) (int, error) {
	max := fmt.Sprintf("(%d", olderThan.Unix())

	expired, err := s.client.ZRangeByScore(ctx, checkpointIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("cardream/redis: purge zrangebyscore: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range expired {
		pipe.Del(ctx, checkpointKey(eID))
	}
	pipe.ZRemRangeByScore(ctx, checkpointIndexKey, "-inf", max)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cardream/redis: purge checkpoints: %w", err)
	}
	return len(expired), nil
}
