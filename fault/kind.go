package fault

// Kind is the closed set of recoverable failure classes. Adding a kind
// is a compile-time-checked change: every switch over Kind in the
// recovery package must handle it.
type Kind string

const (
	// KindBackendCrash is a dead or unreachable backend process.
	KindBackendCrash Kind = "backend_crash"

	// KindBackendTimeout is a call that exceeded its deadline while the
	// backend was otherwise reachable.
	KindBackendTimeout Kind = "backend_timeout"

	// KindMemoryExhaustion is host or backend memory pressure.
	KindMemoryExhaustion Kind = "memory_exhaustion"

	// KindAcceleratorError is a GPU/accelerator-side failure in the
	// decision backend.
	KindAcceleratorError Kind = "accelerator_error"

	// KindNetworkError is a transient transport failure.
	KindNetworkError Kind = "network_error"

	// KindSimulationError is a fault inside the simulated world itself.
	KindSimulationError Kind = "simulation_error"

	// KindResourceExhaustion is non-memory resource pressure (handles,
	// actor slots, disk).
	KindResourceExhaustion Kind = "resource_exhaustion"

	// KindUnclassified is any failure the classifier could not place.
	// It gets the most conservative strategy with a minimal budget.
	KindUnclassified Kind = "unclassified"
)

// Kinds lists every kind, in taxonomy order.
func Kinds() []Kind {
	return []Kind{
		KindBackendCrash,
		KindBackendTimeout,
		KindMemoryExhaustion,
		KindAcceleratorError,
		KindNetworkError,
		KindSimulationError,
		KindResourceExhaustion,
		KindUnclassified,
	}
}

// Valid reports whether k is a member of the closed set.
func (k Kind) Valid() bool {
	switch k {
	case KindBackendCrash, KindBackendTimeout, KindMemoryExhaustion,
		KindAcceleratorError, KindNetworkError, KindSimulationError,
		KindResourceExhaustion, KindUnclassified:
		return true
	}
	return false
}
