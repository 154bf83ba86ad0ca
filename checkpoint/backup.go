package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/id"
)

// Backup is a remote copy target for checkpoints (object storage, a
// second store). Uploads are best-effort; fetches are consulted only
// when the primary store has nothing.
type Backup interface {
	Upload(ctx context.Context, cp *Checkpoint) error
	Fetch(ctx context.Context, expID id.ExperimentID) (*Checkpoint, error)
}

// Compile-time interface check.
var _ Store = (*backedStore)(nil)

// backedStore decorates a primary Store with a remote Backup.
type backedStore struct {
	primary Store
	backup  Backup
	logger  *slog.Logger
}

// BackedOption configures the backup decorator.
type BackedOption func(*backedStore)

// WithBackupLogger sets the logger for backup failures.
func WithBackupLogger(l *slog.Logger) BackedOption {
	return func(s *backedStore) { s.logger = l }
}

// WithBackup wraps primary so every saved checkpoint is also copied to
// the backup. Backup failures are logged and never surfaced; restores
// fall back to the backup only when the primary has no snapshot.
func WithBackup(primary Store, backup Backup, opts ...BackedOption) Store {
	s := &backedStore{primary: primary, backup: backup, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *backedStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if err := s.primary.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	if err := s.backup.Upload(ctx, cp); err != nil {
		s.logger.Warn("checkpoint backup upload failed",
			slog.String("experiment_id", cp.ExperimentID.String()),
			slog.Int("step", cp.Step),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *backedStore) LatestCheckpoint(ctx context.Context, expID id.ExperimentID) (*Checkpoint, error) {
	cp, err := s.primary.LatestCheckpoint(ctx, expID)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, cardream.ErrCheckpointNotFound) {
		return nil, err
	}

	cp, backupErr := s.backup.Fetch(ctx, expID)
	if backupErr != nil {
		// Report the primary miss; the backup miss is secondary.
		return nil, err
	}
	return cp, nil
}

func (s *backedStore) DeleteCheckpoint(ctx context.Context, expID id.ExperimentID) error {
	return s.primary.DeleteCheckpoint(ctx, expID)
}

func (s *backedStore) PurgeCheckpoints(ctx context.Context, olderThan time.Time) (int, error) {
	return s.primary.PurgeCheckpoints(ctx, olderThan)
}
