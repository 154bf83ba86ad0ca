package event

import (
	"context"

	"github.com/basedlsg/Car-Dream/id"
)

// Store defines the persistence contract for events.
type Store interface {
	// PublishEvent persists a new event.
	PublishEvent(ctx context.Context, evt *Event) error

	// ListEvents returns all events for an experiment in publish order.
	ListEvents(ctx context.Context, expID id.ExperimentID) ([]*Event, error)
}
