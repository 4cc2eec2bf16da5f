// Package disk reports capacity of the filesystem holding the artifact root
// and classifies the remaining headroom into pressure tiers.
package disk

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	"github.com/JoseETeixeira/UniRig-Interface/internal/metrics"
)

// Monitor samples free space under a path via statfs. Pure read, no
// mutation.
type Monitor struct {
	path          string
	warningBytes  uint64
	criticalBytes uint64
}

func NewMonitor(path string, warningBytes, criticalBytes uint64) *Monitor {
	return &Monitor{path: path, warningBytes: warningBytes, criticalBytes: criticalBytes}
}

// Snapshot returns current total/used/free bytes and the derived tier.
func (m *Monitor) Snapshot() (domain.DiskSnapshot, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(m.path, &stat); err != nil {
		return domain.DiskSnapshot{}, fmt.Errorf("statfs %s: %w", m.path, err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)

	snap := domain.DiskSnapshot{
		TotalBytes: total,
		UsedBytes:  total - free,
		FreeBytes:  free,
		Tier:       m.classify(free),
	}

	metrics.DiskFreeBytes.Set(float64(snap.FreeBytes))
	metrics.DiskPressureTier.Set(tierValue(snap.Tier))

	return snap, nil
}

func (m *Monitor) classify(free uint64) domain.PressureTier {
	switch {
	case free < m.criticalBytes:
		return domain.PressureCritical
	case free < m.warningBytes:
		return domain.PressureWarning
	default:
		return domain.PressureOK
	}
}

func tierValue(tier domain.PressureTier) float64 {
	switch tier {
	case domain.PressureCritical:
		return 2
	case domain.PressureWarning:
		return 1
	default:
		return 0
	}
}
