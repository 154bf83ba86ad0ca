package fault

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	cardream "github.com/basedlsg/Car-Dream"
)

// Classify maps a raw error onto the closed taxonomy. Wrapped chains are
// inspected first (errors.Is/As); message markers are a fallback for
// errors that cross a process boundary as plain strings.
func Classify(err error) Kind {
	if err == nil {
		return KindUnclassified
	}

	// Sentinel checks first: these are authoritative.
	switch {
	case errors.Is(err, cardream.ErrCircuitOpen):
		// An open breaker means the dependency is effectively down.
		return KindBackendCrash
	case errors.Is(err, cardream.ErrSimulation):
		return KindSimulationError
	case errors.Is(err, cardream.ErrResourceExhausted):
		return KindResourceExhaustion
	case errors.Is(err, context.DeadlineExceeded):
		return KindBackendTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindBackendCrash
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindBackendTimeout
		}
		return KindNetworkError
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetworkError
	}

	return classifyMessage(err.Error())
}

// classifyMessage is the string-marker fallback for opaque errors.
func classifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "connection refused"):
		return KindBackendCrash
	case strings.Contains(m, "out of memory"), strings.Contains(m, "oom"),
		strings.Contains(m, "memory exhausted"):
		return KindMemoryExhaustion
	case strings.Contains(m, "cuda"), strings.Contains(m, "gpu"),
		strings.Contains(m, "accelerator"):
		return KindAcceleratorError
	case strings.Contains(m, "timed out"), strings.Contains(m, "timeout"):
		return KindBackendTimeout
	case strings.Contains(m, "connection reset"), strings.Contains(m, "broken pipe"),
		strings.Contains(m, "no route to host"), strings.Contains(m, "network"):
		return KindNetworkError
	case strings.Contains(m, "collision spawn"), strings.Contains(m, "physics"),
		strings.Contains(m, "simulation"):
		return KindSimulationError
	default:
		return KindUnclassified
	}
}
