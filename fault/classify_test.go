package fault_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/fault"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"circuit open", cardream.ErrCircuitOpen, fault.KindBackendCrash},
		{"wrapped circuit open", fmt.Errorf("get state: %w", cardream.ErrCircuitOpen), fault.KindBackendCrash},
		{"deadline", context.DeadlineExceeded, fault.KindBackendTimeout},
		{"wrapped deadline", fmt.Errorf("apply action: %w", context.DeadlineExceeded), fault.KindBackendTimeout},
		{"net timeout", timeoutErr{}, fault.KindBackendTimeout},
		{"conn refused", syscall.ECONNREFUSED, fault.KindBackendCrash},
		{"conn refused op error", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, fault.KindBackendCrash},
		{"dns", &net.DNSError{Err: "no such host", Name: "sim-backend"}, fault.KindNetworkError},
		{"simulation sentinel", fmt.Errorf("%w: actor destroyed", cardream.ErrSimulation), fault.KindSimulationError},
		{"resource sentinel", fmt.Errorf("%w: no actor slots", cardream.ErrResourceExhausted), fault.KindResourceExhaustion},
		{"oom message", errors.New("backend reported: out of memory"), fault.KindMemoryExhaustion},
		{"cuda message", errors.New("CUDA error: device-side assert"), fault.KindAcceleratorError},
		{"timeout message", errors.New("request timed out after 30s"), fault.KindBackendTimeout},
		{"reset message", errors.New("read: connection reset by peer"), fault.KindNetworkError},
		{"physics message", errors.New("physics substep diverged"), fault.KindSimulationError},
		{"unknown", errors.New("something odd"), fault.KindUnclassified},
		{"nil", nil, fault.KindUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fault.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindsClosedSet(t *testing.T) {
	kinds := fault.Kinds()
	if len(kinds) != 8 {
		t.Fatalf("len(Kinds()) = %d, want 8", len(kinds))
	}
	seen := make(map[fault.Kind]bool, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			t.Errorf("kind %q reported invalid", k)
		}
		if seen[k] {
			t.Errorf("kind %q listed twice", k)
		}
		seen[k] = true
	}
	if fault.Kind("carla_crash").Valid() {
		t.Error("arbitrary kind should be invalid")
	}
}
