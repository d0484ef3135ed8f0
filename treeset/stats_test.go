package treeset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXTreeSetStats_GcStateFollowsCycle(t *testing.T) {
	opt := &xTreeSetOptions[int64]{}
	WithTreeSetName[int64]("xts-stats-ut")(opt)
	WithTreeSetStats[int64]()(opt)
	opt.Validate()

	stats := opt.getStats()
	require.NotNil(t, stats)
	require.NotNil(t, stats.gcState)
	require.EqualValues(t, 0, stats.gcRunning.Load())
	stats.IncreaseGcStartedCount()
	require.EqualValues(t, 1, stats.gcRunning.Load())
	stats.IncreaseGcCompletedCount()
	require.EqualValues(t, 0, stats.gcRunning.Load())
}

func TestXTreeSetStats_NilReceiverIsSilent(t *testing.T) {
	var stats *xTreeSetStats
	require.NotPanics(t, func() {
		stats.IncreaseOperationCount(opInsert)
		stats.IncreaseReplyCount()
		stats.RecordNodeAliveCount(1)
		stats.IncreaseNodeSpawnedCount()
		stats.IncreaseNodeCopiedCount()
		stats.IncreaseGcStartedCount()
		stats.IncreaseGcCompletedCount()
		stats.RecordGcDuration(1)
	})
}
