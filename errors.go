package cardream

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("cardream: no store configured")
	ErrStoreClosed     = errors.New("cardream: store closed")
	ErrMigrationFailed = errors.New("cardream: migration failed")

	// Not found errors.
	ErrExperimentNotFound = errors.New("cardream: experiment not found")
	ErrCheckpointNotFound = errors.New("cardream: checkpoint not found")
	ErrScheduleNotFound   = errors.New("cardream: schedule entry not found")
	ErrEventNotFound      = errors.New("cardream: event not found")

	// Conflict errors.
	ErrExperimentAlreadyExists = errors.New("cardream: experiment already exists")
	ErrDuplicateSchedule       = errors.New("cardream: duplicate schedule entry")

	// Workflow errors.
	ErrInvalidConfig       = errors.New("cardream: invalid experiment config")
	ErrExperimentActive    = errors.New("cardream: experiment already active")
	ErrExperimentNotActive = errors.New("cardream: experiment not active")
	ErrTooManyExperiments  = errors.New("cardream: concurrent experiment limit reached")
	ErrStepCeiling         = errors.New("cardream: step error ceiling exceeded")
	ErrCancelled           = errors.New("cardream: experiment cancelled")

	// Recovery errors.
	ErrRecoveryExhausted  = errors.New("cardream: recovery budget exhausted")
	ErrRestartCapExceeded = errors.New("cardream: global restart cap exceeded")

	// ErrCircuitOpen is returned by a guarded call rejected while the
	// dependency's circuit breaker is open. Classified as a backend crash
	// for recovery purposes, never a distinct unrecoverable class.
	ErrCircuitOpen = errors.New("cardream: circuit open")

	// Backend fault sentinels. Clients wrap these so the classifier can
	// match with errors.Is instead of message sniffing.
	ErrSimulation        = errors.New("cardream: simulation fault")
	ErrResourceExhausted = errors.New("cardream: backend resources exhausted")
)
