package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

func TestSnapshotReportsRealFilesystem(t *testing.T) {
	m := NewMonitor(t.TempDir(), 10<<30, 5<<30)

	snap, err := m.Snapshot()
	require.NoError(t, err)

	assert.Positive(t, snap.TotalBytes)
	assert.LessOrEqual(t, snap.FreeBytes, snap.TotalBytes)
	assert.Equal(t, snap.TotalBytes-snap.FreeBytes, snap.UsedBytes)
}

func TestSnapshotFailsOnMissingPath(t *testing.T) {
	m := NewMonitor("/does/not/exist", 10, 5)

	_, err := m.Snapshot()
	assert.Error(t, err)
}

func TestClassifyTiers(t *testing.T) {
	m := NewMonitor("/", 10_000, 5_000)

	tests := []struct {
		free uint64
		tier domain.PressureTier
	}{
		{20_000, domain.PressureOK},
		{10_000, domain.PressureOK},
		{9_999, domain.PressureWarning},
		{5_000, domain.PressureWarning},
		{4_999, domain.PressureCritical},
		{0, domain.PressureCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.tier, m.classify(tt.free), "free=%d", tt.free)
	}
}
