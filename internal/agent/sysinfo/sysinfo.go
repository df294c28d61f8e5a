// Package sysinfo collects host resource utilization for heartbeat
// reporting. CPU is sampled over a one-second window, so Collect blocks for
// about that long; callers should budget for it in their send cadence.
package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// cpuSampleInterval is the measurement window for the CPU percentage.
const cpuSampleInterval = time.Second

// Snapshot is a point-in-time view of host resource usage.
// Values are percentages (0-100).
type Snapshot struct {
	CPU    float64
	Memory float64
}

// Collect returns current host CPU and memory utilization. A partial failure
// returns the values that could be read along with the error, so callers can
// report a degraded snapshot rather than none.
func Collect(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return snap, fmt.Errorf("sysinfo: sample cpu: %w", err)
	}
	if len(percents) > 0 {
		snap.CPU = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("sysinfo: read memory: %w", err)
	}
	snap.Memory = vm.UsedPercent

	return snap, nil
}
