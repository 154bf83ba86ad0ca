package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one host resource reading.
type Sample struct {
	// MemoryPercent is used physical memory as a percentage of total.
	MemoryPercent float64

	// CPUPercent is overall CPU utilisation since the previous sample.
	CPUPercent float64
}

// Sampler reads host resource usage.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// Compile-time interface check.
var _ Sampler = (*SystemSampler)(nil)

// SystemSampler reads real host usage via gopsutil.
type SystemSampler struct{}

// Sample implements Sampler.
func (SystemSampler) Sample(ctx context.Context) (Sample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("health: read memory: %w", err)
	}
	s := Sample{MemoryPercent: vm.UsedPercent}

	// Interval 0 measures since the last call, non-blocking.
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("health: read cpu: %w", err)
	}
	if len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	return s, nil
}
