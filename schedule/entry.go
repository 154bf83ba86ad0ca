package schedule

import (
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
)

// DefaultCron is the schedule used when an entry gives none: daily at
// 09:00.
const DefaultCron = "0 9 * * *"

// Entry is one recurring experiment launch.
type Entry struct {
	cardream.Entity

	ID   id.ScheduleID `json:"id"`
	Name string        `json:"name"`

	// Cron is a 5-field cron expression or a descriptor like
	// "@every 6h".
	Cron string `json:"cron"`

	// Config is the experiment configuration launched on each firing.
	Config experiment.Config `json:"config"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
}

// NewEntry creates an enabled entry. An empty cron expression falls
// back to DefaultCron.
func NewEntry(name, cron string, cfg experiment.Config) *Entry {
	if cron == "" {
		cron = DefaultCron
	}
	return &Entry{
		Entity:  cardream.NewEntity(),
		ID:      id.NewScheduleID(),
		Name:    name,
		Cron:    cron,
		Config:  cfg,
		Enabled: true,
	}
}
