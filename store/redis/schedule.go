package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/id"
	"github.com/basedlsg/Car-Dream/schedule"
)

// CreateSchedule stores the entry as a Hash and claims its name in the
// name index.
func (s *Store) CreateSchedule(ctx context.Context, entry *schedule.Entry) error {
	eID := entry.ID.String()

	claimed, err := s.client.HSetNX(ctx, scheduleNamesKey, entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: create schedule claim name: %w", err)
	}
	if !claimed {
		return cardream.ErrDuplicateSchedule
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, scheduleKey(eID), scheduleToMap(entry))
	pipe.SAdd(ctx, scheduleIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cardream/redis: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves an entry by ID.
func (s *Store) GetSchedule(ctx context.Context, entryID id.ScheduleID) (*schedule.Entry, error) {
	return s.getScheduleByKey(ctx, scheduleKey(entryID.String()))
}

// ListSchedules returns all entries.
func (s *Store) ListSchedules(ctx context.Context) ([]*schedule.Entry, error) {
	ids, err := s.client.SMembers(ctx, scheduleIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: list schedules smembers: %w", err)
	}

	result := make([]*schedule.Entry, 0, len(ids))
	for _, eID := range ids {
		entry, getErr := s.getScheduleByKey(ctx, scheduleKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		result = append(result, entry)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// UpdateSchedule updates an entry (Enabled, run timestamps).
func (s *Store) UpdateSchedule(ctx context.Context, entry *schedule.Entry) error {
	key := scheduleKey(entry.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: update schedule exists: %w", err)
	}
	if exists == 0 {
		return cardream.ErrScheduleNotFound
	}

	fields := scheduleToMap(entry)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("cardream/redis: update schedule: %w", err)
	}
	return nil
}

// DeleteSchedule removes an entry by ID.
func (s *Store) DeleteSchedule(ctx context.Context, entryID id.ScheduleID) error {
	eID := entryID.String()
	key := scheduleKey(eID)

	// Get the name before deleting to release it in the name index.
	name, err := s.client.HGet(ctx, key, "name").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return cardream.ErrScheduleNotFound
		}
		return fmt.Errorf("cardream/redis: delete schedule get name: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, scheduleIDsKey, eID)
	pipe.HDel(ctx, scheduleNamesKey, name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cardream/redis: delete schedule: %w", err)
	}
	return nil
}

// ── helpers ──

func scheduleToMap(entry *schedule.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":         entry.ID.String(),
		"name":       entry.Name,
		"cron":       entry.Cron,
		"config":     marshalJSON(entry.Config),
		"enabled":    boolField(entry.Enabled),
		"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": entry.UpdatedAt.Format(time.RFC3339Nano),
	}
	if entry.LastRunAt != nil {
		m["last_run_at"] = entry.LastRunAt.Format(time.RFC3339Nano)
	}
	if entry.NextRunAt != nil {
		m["next_run_at"] = entry.NextRunAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getScheduleByKey(ctx context.Context, key string) (*schedule.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: get schedule: %w", err)
	}
	if len(vals) == 0 {
		return nil, cardream.ErrScheduleNotFound
	}
	return mapToSchedule(vals)
}

func mapToSchedule(m map[string]string) (*schedule.Entry, error) {
	eID, err := id.ParseScheduleID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: parse schedule id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	entry := &schedule.Entry{
		Entity: cardream.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:      eID,
		Name:    m["name"],
		Cron:    m["cron"],
		Enabled: m["enabled"] == "1",
	}

	if raw := m["config"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &entry.Config); err != nil {
			return nil, fmt.Errorf("cardream/redis: decode schedule config: %w", err)
		}
	}
	if v := m["last_run_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		entry.LastRunAt = &t
	}
	if v := m["next_run_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		entry.NextRunAt = &t
	}

	return entry, nil
}
