package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPoolStatsObserveAddsDeltas(t *testing.T) {
	m := NewPGXPoolStats(nil)

	m.observe(5, 2, 10, 2*time.Second)
	require.Equal(t, float64(10), testutil.ToFloat64(m.acquireCount))
	require.Equal(t, float64(2), testutil.ToFloat64(m.acquireLatency))

	// pgxpool snapshots are cumulative; a second tick adds only the growth.
	m.observe(6, 3, 15, 3*time.Second)
	require.Equal(t, float64(15), testutil.ToFloat64(m.acquireCount))
	require.Equal(t, float64(3), testutil.ToFloat64(m.acquireLatency))
	require.Equal(t, float64(6), testutil.ToFloat64(m.conns))
	require.Equal(t, float64(3), testutil.ToFloat64(m.idle))
}
