package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basedlsg/Car-Dream/event"
	"github.com/basedlsg/Car-Dream/id"
)

// PublishEvent appends the serialized event to the experiment's list.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	key := eventsKey(evt.ExperimentID.String())
	if err := s.client.RPush(ctx, key, marshalJSON(evt)).Err(); err != nil {
		return fmt.Errorf("cardream/redis: publish event: %w", err)
	}
	return nil
}

// ListEvents returns all events for an experiment in publish order.
func (s *Store) ListEvents(ctx context.Context, expID id.ExperimentID) ([]*event.Event, error) {
	raws, err := s.client.LRange(ctx, eventsKey(expID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cardream/redis: list events lrange: %w", err)
	}

	result := make([]*event.Event, 0, len(raws))
	for _, raw := range raws {
		var evt event.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			s.logger.Warn("cardream/redis: skipping undecodable event", "error", err)
			continue
		}
		result = append(result, &evt)
	}
	return result, nil
}
