package recovery

import (
	"time"

	"github.com/basedlsg/Car-Dream/backend"
	"github.com/basedlsg/Car-Dream/fault"
)

// Strategy names recorded on fault records and matched by the executor.
const (
	StrategyRestartBackend    = "restart_backend"
	StrategyWaitRetry         = "wait_retry"
	StrategyRestoreCheckpoint = "restore_checkpoint"
	StrategyScaleDown         = "scale_down"
)

// DefaultGlobalRestartCap bounds backend restarts across the whole
// process lifetime, independent of per-experiment budgets.
const DefaultGlobalRestartCap = 5

// Readiness probing after a restart.
const (
	DefaultProbeAttempts = 5
	DefaultProbeDelay    = 2 * time.Second
)

// Rule is the strategy, budget, and inter-attempt delay for one kind.
type Rule struct {
	Strategy    string
	MaxAttempts int
	Delay       time.Duration

	// Service is the backend the strategy acts on, where relevant.
	Service string
}

// Rules maps a kind onto its rule. Implementations must be total over
// the closed kind set.
type Rules func(fault.Kind) Rule

// DefaultRules returns the built-in strategy table.
func DefaultRules() Rules { return defaultRule }

func defaultRule(k fault.Kind) Rule {
	switch k {
	case fault.KindBackendCrash:
		return Rule{StrategyRestartBackend, 3, 10 * time.Second, backend.ServiceSimulation}
	case fault.KindBackendTimeout:
		return Rule{StrategyWaitRetry, 2, 5 * time.Second, ""}
	case fault.KindMemoryExhaustion:
		return Rule{StrategyScaleDown, 1, 0, backend.ServiceSimulation}
	case fault.KindAcceleratorError:
		return Rule{StrategyRestartBackend, 2, 15 * time.Second, backend.ServiceDecision}
	case fault.KindNetworkError:
		return Rule{StrategyWaitRetry, 3, 2 * time.Second, ""}
	case fault.KindSimulationError:
		return Rule{StrategyRestoreCheckpoint, 2, 1 * time.Second, backend.ServiceSimulation}
	case fault.KindResourceExhaustion:
		return Rule{StrategyScaleDown, 1, 0, backend.ServiceSimulation}
	case fault.KindUnclassified:
		return Rule{StrategyWaitRetry, 1, 1 * time.Second, ""}
	default:
		// Unknown kinds cannot occur through the classifier; treat any
		// stray value like an unclassified failure.
		return Rule{StrategyWaitRetry, 1, 1 * time.Second, ""}
	}
}
