package signals

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/procfs"
)

var _ LoadSampler = (*ProcSampler)(nil)

// #region proc-sampler
// ProcSampler reads host CPU and memory pressure from a procfs mount.
// CPU is reported as busy time since the previous Sample call, or since boot
// on the first call.
type ProcSampler struct {
	fs procfs.FS

	mu   sync.Mutex
	prev *procfs.CPUStat
}

// NewProcSampler opens the procfs mount at mountPoint. An empty mountPoint
// uses /proc.
func NewProcSampler(mountPoint string) (*ProcSampler, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mountPoint, err)
	}
	return &ProcSampler{fs: fs}, nil
}

// Sample returns CPU and memory utilisation as percentages.
func (s *ProcSampler) Sample(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	stat, err := s.fs.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("read cpu stat: %w", err)
	}
	mem, err := s.fs.Meminfo()
	if err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}

	s.mu.Lock()
	cur := stat.CPUTotal
	var base procfs.CPUStat
	if s.prev != nil {
		base = *s.prev
	}
	s.prev = &cur
	s.mu.Unlock()

	return cpuBusyPercent(base, cur), memUsedPercent(mem), nil
}

// #endregion proc-sampler

// #region proc-math
func cpuBusyPercent(prev, cur procfs.CPUStat) float64 {
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	total := cpuTotal(cur) - cpuTotal(prev)
	if total <= 0 {
		return 0
	}
	return clamp(100*(total-idle)/total, 0, 100)
}

// cpuTotal excludes guest time, which the kernel already counts in user.
func cpuTotal(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

func memUsedPercent(mi procfs.Meminfo) float64 {
	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return 0
	}
	avail := uint64(0)
	switch {
	case mi.MemAvailable != nil:
		avail = *mi.MemAvailable
	case mi.MemFree != nil:
		avail = *mi.MemFree
	}
	if avail > *mi.MemTotal {
		avail = *mi.MemTotal
	}
	return 100 * float64(*mi.MemTotal-avail) / float64(*mi.MemTotal)
}

// #endregion proc-math
