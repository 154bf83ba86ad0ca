package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/fault"
	"github.com/basedlsg/Car-Dream/id"
)

// AppendRecord stores the record as a Hash, appends its ID to the
// experiment's list, and indexes it by occurrence time.
func (s *Store) AppendRecord(ctx context.Context, rec *fault.Record) error {
	fID := rec.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, faultKey(fID), faultToMap(rec))
	pipe.RPush(ctx, faultListKey(rec.ExperimentID.String()), fID)
	pipe.ZAdd(ctx, faultTimesKey, goredis.Z{
		Score:  float64(rec.OccurredAt.Unix()),
		Member: fID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cardream/redis: append record: %w", err)
	}
	return nil
}

// UpdateRecoveryOutcome records the recovery action's own success or
// failure onto an existing record.
func (s *Store) UpdateRecoveryOutcome(ctx context.Context, faultID id.FaultID, succeeded bool) error {
	key := faultKey(faultID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: outcome check exists: %w", err)
	}
	if exists == 0 {
		return nil
	}

	_, err = s.client.HSet(ctx, key,
		"recovery_succeeded", boolField(succeeded),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: update recovery outcome: %w", err)
	}
	return nil
}

// ListRecords returns all records for an experiment in append order.
func (s *Store) ListRecords(ctx context.Context, expID id.ExperimentID) ([]*fault.Record, error) {
	ids, err := s.client.LRange(ctx, faultListKey(expID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: list records lrange: %w", err)
	}

	result := make([]*fault.Record, 0, len(ids))
	for _, fID := range ids {
		vals, getErr := s.client.HGetAll(ctx, faultKey(fID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		rec, convErr := mapToFault(vals)
		if convErr != nil {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// CountRecordsSince counts records across all experiments that occurred
// at or after the cutoff.
func (s *Store) CountRecordsSince(ctx context.Context, since time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, faultTimesKey,
		strconv.FormatInt(since.Unix(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("cardream/redis: count records: %w", err)
	}
	return int(n), nil
}

// IncrementAttempts bumps the (experiment, kind) counter.
func (s *Store) IncrementAttempts(ctx context.Context, expID id.ExperimentID, kind fault.Kind) (int, error) {
	n, err := s.client.HIncrBy(ctx, attemptsKey(expID.String()), string(kind), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("cardream/redis: increment attempts: %w", err)
	}
	return int(n), nil
}

// Attempts returns the current (experiment, kind) counter.
func (s *Store) Attempts(ctx context.Context, expID id.ExperimentID, kind fault.Kind) (int, error) {
	raw, err := s.client.HGet(ctx, attemptsKey(expID.String()), string(kind)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("cardream/redis: get attempts: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("cardream/redis: parse attempts: %w", err)
	}
	return n, nil
}

// ResetAttempts clears all counters for an experiment.
func (s *Store) ResetAttempts(ctx context.Context, expID id.ExperimentID) error {
	if err := s.client.Del(ctx, attemptsKey(expID.String())).Err(); err != nil {
		return fmt.Errorf("cardream/redis: reset attempts: %w", err)
	}
	return nil
}

// ── helpers ──

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func faultToMap(rec *fault.Record) map[string]interface{} {
	return map[string]interface{}{
		"id":                 rec.ID.String(),
		"experiment_id":      rec.ExperimentID.String(),
		"kind":               string(rec.Kind),
		"message":            rec.Message,
		"phase":              rec.Phase,
		"recovery_attempted": boolField(rec.RecoveryAttempted),
		"recovery_strategy":  rec.RecoveryStrategy,
		"recovery_succeeded": boolField(rec.RecoverySucceeded),
		"occurred_at":        rec.OccurredAt.Format(time.RFC3339Nano),
		"created_at":         rec.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":         rec.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToFault(m map[string]string) (*fault.Record, error) {
	fID, err := id.ParseFaultID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: parse fault id: %w", err)
	}
	eID, err := id.ParseExperimentID(m["experiment_id"])
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: parse experiment id: %w", err)
	}

	occurredAt, _ := time.Parse(time.RFC3339Nano, m["occurred_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])   //nolint:errcheck // best-effort parse from trusted Redis data

	return &fault.Record{
		Entity: cardream.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:                fID,
		ExperimentID:      eID,
		Kind:              fault.Kind(m["kind"]),
		Message:           m["message"],
		Phase:             m["phase"],
		RecoveryAttempted: m["recovery_attempted"] == "1",
		RecoveryStrategy:  m["recovery_strategy"],
		RecoverySucceeded: m["recovery_succeeded"] == "1",
		OccurredAt:        occurredAt,
	}, nil
}
