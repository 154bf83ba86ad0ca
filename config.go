package cardream

import (
	"fmt"
	"time"
)

// Config holds configuration for the Engine.
type Config struct {
	// MaxConcurrentExperiments is the maximum number of experiments
	// running at the same time.
	MaxConcurrentExperiments int

	// StepInterval is the pacing delay between Execution-loop iterations.
	// It throttles backend traffic and is not a correctness requirement.
	StepInterval time.Duration

	// StepErrorCeiling is the number of in-loop step errors tolerated
	// within one Execution attempt before the loop aborts to the
	// phase-level failure handler.
	StepErrorCeiling int

	// CheckpointEvery is the number of successful steps between
	// checkpoint saves during Execution.
	CheckpointEvery int

	// CheckpointRetention is how long checkpoints are kept before the
	// health monitor evicts them.
	CheckpointRetention time.Duration

	// HealthInterval is how often the health monitor ticks.
	HealthInterval time.Duration

	// CallTimeout bounds every individual backend call so a hung
	// dependency cannot stall cancellation.
	CallTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentExperiments: 5,
		StepInterval:             100 * time.Millisecond,
		StepErrorCeiling:         10,
		CheckpointEvery:          50,
		CheckpointRetention:      24 * time.Hour,
		HealthInterval:           30 * time.Second,
		CallTimeout:              30 * time.Second,
		ShutdownTimeout:          30 * time.Second,
	}
}

// Validate reports the first nonsensical field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentExperiments <= 0:
		return fmt.Errorf("%w: max concurrent experiments %d", ErrInvalidConfig, c.MaxConcurrentExperiments)
	case c.StepInterval < 0:
		return fmt.Errorf("%w: negative step interval", ErrInvalidConfig)
	case c.StepErrorCeiling <= 0:
		return fmt.Errorf("%w: step error ceiling %d", ErrInvalidConfig, c.StepErrorCeiling)
	case c.CheckpointEvery <= 0:
		return fmt.Errorf("%w: checkpoint interval %d", ErrInvalidConfig, c.CheckpointEvery)
	case c.CallTimeout <= 0:
		return fmt.Errorf("%w: call timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
