package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgereg/cachelayer/cachestore"
)

func TestDashboardLatestReflectsMostRecentRecord(t *testing.T) {
	d := NewDashboard()
	_, ok := d.Latest()
	assert.False(t, ok)

	d.Record(cachestore.PoolStats{Size: 1})
	d.Record(cachestore.PoolStats{Size: 2})

	latest, ok := d.Latest()
	require.True(t, ok)
	assert.Equal(t, 2, latest.Stats.Size)
}

func TestDashboardRecentIsChronologicalBeforeWraparound(t *testing.T) {
	d := NewDashboard()
	for i := 1; i <= 3; i++ {
		d.Record(cachestore.PoolStats{Size: i})
	}
	recent := d.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, 1, recent[0].Stats.Size)
	assert.Equal(t, 3, recent[2].Stats.Size)
}

func TestDashboardWrapsAroundAtCapacity(t *testing.T) {
	d := NewDashboard()
	for i := 1; i <= DashboardCapacity+5; i++ {
		d.Record(cachestore.PoolStats{Size: i})
	}
	recent := d.Recent()
	require.Len(t, recent, DashboardCapacity)
	// Oldest surviving sample is the 6th write (i=6); newest is the last write.
	assert.Equal(t, 6, recent[0].Stats.Size)
	assert.Equal(t, DashboardCapacity+5, recent[len(recent)-1].Stats.Size)
}
