package bunstore

import (
	"context"
	"fmt"

	"github.com/basedlsg/Car-Dream/event"
	"github.com/basedlsg/Car-Dream/id"
)

// PublishEvent persists a new event. The sequence column preserves
// publish order.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("cardream/bun: publish event: %w", err)
	}
	return nil
}

// ListEvents returns all events for an experiment in publish order.
func (s *Store) ListEvents(ctx context.Context, expID id.ExperimentID) ([]*event.Event, error) {
	var models []eventModel
	err := s.db.NewSelect().Model(&models).
		Where("experiment_id = ?", expID.String()).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("cardream/bun: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, convErr := fromEventModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("cardream/bun: list events convert: %w", convErr)
		}
		result = append(result, evt)
	}
	return result, nil
}
