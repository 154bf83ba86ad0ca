package schedule

import (
	"context"

	"github.com/basedlsg/Car-Dream/id"
)

// Store is the persistence port for schedule entries.
type Store interface {
	// CreateSchedule persists a new entry. Returns
	// cardream.ErrDuplicateSchedule if the name is taken.
	CreateSchedule(ctx context.Context, entry *Entry) error

	// GetSchedule retrieves an entry by ID. Returns
	// cardream.ErrScheduleNotFound if it does not exist.
	GetSchedule(ctx context.Context, entryID id.ScheduleID) (*Entry, error)

	// ListSchedules returns all entries.
	ListSchedules(ctx context.Context) ([]*Entry, error)

	// UpdateSchedule updates an entry (Enabled, run timestamps).
	UpdateSchedule(ctx context.Context, entry *Entry) error

	// DeleteSchedule removes an entry by ID.
	DeleteSchedule(ctx context.Context, entryID id.ScheduleID) error
}
