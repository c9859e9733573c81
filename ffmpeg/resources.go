package ffmpeg

import (
	"errors"
	"fmt"
	"time"

	"audioseg/logger"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var ErrInsufficientResources = errors.New("insufficient system resources")

// ResourceGuard refuses new work when the host is saturated. Probe failures
// are logged and ignored.
type ResourceGuard struct {
	IdleCPU  float64 // minimum idle CPU percent
	FreeMem  int64
	FreeDisk int64
	Dir      string
	Sample   time.Duration
}

func (g *ResourceGuard) Check() error {
	sample := g.Sample
	if sample <= 0 {
		sample = 200 * time.Millisecond
	}

	p, err := cpu.Percent(sample, false)
	if err != nil {
		logger.Warn("Could not get CPU usage", logger.Err(err))
	} else if len(p) > 0 && p[0] > (100.0-g.IdleCPU) {
		return fmt.Errorf("%w: CPU usage %.2f%%, idle threshold %.2f%%", ErrInsufficientResources, p[0], g.IdleCPU)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("Could not get memory usage", logger.Err(err))
	} else if vm.Available < uint64(g.FreeMem) {
		return fmt.Errorf("%w: available memory %d, required %d", ErrInsufficientResources, vm.Available, g.FreeMem)
	}

	d, err := disk.Usage(g.Dir)
	if err != nil {
		logger.Warn("Could not get disk usage", logger.String("dir", g.Dir), logger.Err(err))
	} else if d.Free < uint64(g.FreeDisk) {
		return fmt.Errorf("%w: free disk %d, required %d", ErrInsufficientResources, d.Free, g.FreeDisk)
	}
	return nil
}
