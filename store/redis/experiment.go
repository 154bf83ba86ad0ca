package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
)

// CreateExperiment stores the experiment as a Hash and registers its ID.
func (s *Store) CreateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	eID := exp.ID.String()
	key := experimentKey(eID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return cardream.ErrExperimentAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, experimentToMap(exp))
	pipe.SAdd(ctx, experimentIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cardream/redis: create experiment: %w", err)
	}
	return nil
}

// GetExperiment retrieves an experiment by ID.
func (s *Store) GetExperiment(ctx context.Context, expID id.ExperimentID) (*experiment.Experiment, error) {
	return s.getExperimentByKey(ctx, experimentKey(expID.String()))
}

// ListExperiments returns experiments matching the given options.
func (s *Store) ListExperiments(ctx context.Context, opts experiment.ListOpts) ([]*experiment.Experiment, error) {
	ids, err := s.client.SMembers(ctx, experimentIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: list smembers: %w", err)
	}

	result := make([]*experiment.Experiment, 0, len(ids))
	for _, eID := range ids {
		exp, getErr := s.getExperimentByKey(ctx, experimentKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Phase != "" && exp.Phase != opts.Phase {
			continue
		}
		result = append(result, exp)
	}

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
func (s *Store) GetConfig(ctx context.Context, expID id.ExperimentID) (*experiment.Config, error) {
	raw, err := s.client.HGet(ctx, experimentKey(expID.String()), "config").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cardream.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("cardream/redis: get config: %w", err)
	}

	var cfg experiment.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("cardream/redis: decode config: %w", err)
	}
	return &cfg, nil
}

// UpdatePhase durably records a phase transition.
func (s *Store) UpdatePhase(ctx context.Context, expID id.ExperimentID, phase experiment.Phase) error {
	key := experimentKey(expID.String())
	if err := s.requireExperiment(ctx, key); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "phase", string(phase), "updated_at", now)
	if phase.Terminal() {
		pipe.HSetNX(ctx, key, "completed_at", now)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cardream/redis: update phase: %w", err)
	}
	return nil
}

// UpdateProgress records fractional progress in [0,1].
func (s *Store) UpdateProgress(ctx context.Context, expID id.ExperimentID, progress float64) error {
	key := experimentKey(expID.String())
	if err := s.requireExperiment(ctx, key); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.client.HSet(ctx, key,
		"progress", strconv.FormatFloat(progress, 'f', -1, 64),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: update progress: %w", err)
	}
	return nil
}

// UpdateResult stores the processed outcome of a run.
func (s *Store) UpdateResult(ctx context.Context, expID id.ExperimentID, result *experiment.Result) error {
	key := experimentKey(expID.String())
	if err := s.requireExperiment(ctx, key); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.client.HSet(ctx, key,
		"result", marshalJSON(result),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: update result: %w", err)
	}
	return nil
}

// Fail marks the experiment Failed with a human-readable message.
func (s *Store) Fail(ctx context.Context, expID id.ExperimentID, msg string) error {
	key := experimentKey(expID.String())
	if err := s.requireExperiment(ctx, key); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"phase", string(experiment.PhaseFailed),
		"error", msg,
		"updated_at", now,
	)
	pipe.HSetNX(ctx, key, "completed_at", now)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cardream/redis: fail experiment: %w", err)
	}
	return nil
}

// StoreMetrics merges numeric metrics into the record, last value wins
// per key.
func (s *Store) StoreMetrics(ctx context.Context, expID id.ExperimentID, metrics map[string]float64) error {
	key := experimentKey(expID.String())

	raw, err := s.client.HGet(ctx, key, "metrics").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return cardream.ErrExperimentNotFound
		}
		return fmt.Errorf("cardream/redis: store metrics get: %w", err)
	}

	merged := make(map[string]float64)
	if raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			return fmt.Errorf("cardream/redis: decode metrics: %w", err)
		}
	}
	for k, v := range metrics {
		merged[k] = v
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"metrics", marshalJSON(merged),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: store metrics: %w", err)
	}
	return nil
}

// StoreArtifact appends an artifact reference.
func (s *Store) StoreArtifact(ctx context.Context, expID id.ExperimentID, ref string) error {
	key := experimentKey(expID.String())

	raw, err := s.client.HGet(ctx, key, "artifacts").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return cardream.ErrExperimentNotFound
		}
		return fmt.Errorf("cardream/redis: store artifact get: %w", err)
	}

	artifacts := unmarshalStrings(raw)
	artifacts = append(artifacts, ref)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"artifacts", marshalJSON(artifacts),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: store artifact: %w", err)
	}
	return nil
}

// StoreSummary replaces the free-form summary.
func (s *Store) StoreSummary(ctx context.Context, expID id.ExperimentID, summary map[string]any) error {
	key := experimentKey(expID.String())
	if err := s.requireExperiment(ctx, key); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.client.HSet(ctx, key,
		"summary", marshalJSON(summary),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: store summary: %w", err)
	}
	return nil
}

// ── helpers ──

func (s *Store) requireExperiment(ctx context.Context, key string) error {
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cardream/redis: check exists: %w", err)
	}
	if exists == 0 {
		return cardream.ErrExperimentNotFound
	}
	return nil
}

func experimentToMap(exp *experiment.Experiment) map[string]interface{} {
	m := map[string]interface{}{
		"id":         exp.ID.String(),
		"name":       exp.Name,
		"config":     marshalJSON(exp.Config),
		"phase":      string(exp.Phase),
		"progress":   strconv.FormatFloat(exp.Progress, 'f', -1, 64),
		"error":      exp.Error,
		"metrics":    marshalJSON(exp.Metrics),
		"artifacts":  marshalJSON(exp.Artifacts),
		"summary":    marshalJSON(exp.Summary),
		"started_at": exp.StartedAt.Format(time.RFC3339Nano),
		"created_at": exp.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": exp.UpdatedAt.Format(time.RFC3339Nano),
	}
	if exp.Result != nil {
		m["result"] = marshalJSON(exp.Result)
	}
	if exp.CompletedAt != nil {
		m["completed_at"] = exp.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getExperimentByKey(ctx context.Context, key string) (*experiment.Experiment, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: get experiment: %w", err)
	}
	if len(vals) == 0 {
		return nil, cardream.ErrExperimentNotFound
	}
	return mapToExperiment(vals)
}

func mapToExperiment(m map[string]string) (*experiment.Experiment, error) {
	eID, err := id.ParseExperimentID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: parse experiment id: %w", err)
	}

	progress, _ := strconv.ParseFloat(m["progress"], 64)              //nolint:errcheck // best-effort parse from trusted Redis data
	startedAt, _ := time.Parse(time.RFC3339Nano, m["started_at"])     //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])     //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])     //nolint:errcheck // best-effort parse from trusted Redis data

	exp := &experiment.Experiment{
		Entity: cardream.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:        eID,
		Name:      m["name"],
		Phase:     experiment.Phase(m["phase"]),
		Progress:  progress,
		Error:     m["error"],
		Artifacts: unmarshalStrings(m["artifacts"]),
		StartedAt: startedAt,
	}

	if raw := m["config"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &exp.Config); err != nil {
			return nil, fmt.Errorf("cardream/redis: decode config: %w", err)
		}
	}
	if raw := m["metrics"]; raw != "" && raw != "null" {
		metrics := make(map[string]float64)
		_ = json.Unmarshal([]byte(raw), &metrics) //nolint:errcheck // best-effort parse from trusted Redis data
		exp.Metrics = metrics
	}
	if raw := m["summary"]; raw != "" && raw != "null" {
		summary := make(map[string]any)
		_ = json.Unmarshal([]byte(raw), &summary) //nolint:errcheck // best-effort parse from trusted Redis data
		exp.Summary = summary
	}
	if raw := m["result"]; raw != "" && raw != "null" {
		var res experiment.Result
		_ = json.Unmarshal([]byte(raw), &res) //nolint:errcheck // best-effort parse from trusted Redis data
		exp.Result = &res
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		exp.CompletedAt = &t
	}

	return exp, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
