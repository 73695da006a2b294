// Package agent reports the local machine's utilization to the placement service.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Usage is one utilization sample in percent.
type Usage struct {
	CPUPercent float64
	RAMPercent float64
}

// Sampler measures local utilization.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// SystemSampler samples CPU and memory through gopsutil.
type SystemSampler struct {
	window time.Duration
}

// NewSystemSampler creates a sampler that averages CPU over window.
func NewSystemSampler(window time.Duration) *SystemSampler {
	if window <= 0 {
		window = time.Second
	}
	return &SystemSampler{window: window}
}

func (s *SystemSampler) Sample(ctx context.Context) (Usage, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, s.window, false)
	if err != nil {
		return Usage{}, fmt.Errorf("get cpu percent: %w", err)
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("get memory usage: %w", err)
	}

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	return Usage{
		CPUPercent: cpuPct,
		RAMPercent: memInfo.UsedPercent,
	}, nil
}

// DefaultHostID returns the machine hostname as reported by gopsutil.
func DefaultHostID() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", fmt.Errorf("get host info: %w", err)
	}
	if info.Hostname == "" {
		return "", fmt.Errorf("empty hostname")
	}
	return info.Hostname, nil
}
