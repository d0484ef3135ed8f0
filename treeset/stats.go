package treeset

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/benz9527/xtreeset/lib/infra"
)

const (
	TreeSetStatsName = "xtreeset/xts"
)

type xTreeSetStats struct {
	gcRunning        atomic.Int64
	gcState          metric.Int64ObservableGauge
	operationCount   metric.Int64Counter
	replyCount       metric.Int64Counter
	nodeAliveCount   metric.Int64UpDownCounter
	nodeSpawnedCount metric.Int64Counter
	nodeCopiedCount  metric.Int64Counter
	gcStartedCount   metric.Int64Counter
	gcCompletedCount metric.Int64Counter
	gcDurations      metric.Int64Histogram
}

func (stats *xTreeSetStats) IncreaseOperationCount(kind opKind) {
	if stats == nil {
		return
	}
	as := attribute.NewSet(
		attribute.String("xts.op.kind", kind.String()),
	)
	stats.operationCount.Add(context.Background(), 1, metric.WithAttributeSet(as))
}

func (stats *xTreeSetStats) IncreaseReplyCount() {
	if stats == nil {
		return
	}
	stats.replyCount.Add(context.Background(), 1)
}

func (stats *xTreeSetStats) RecordNodeAliveCount(count int64) {
	if stats == nil {
		return
	}
	stats.nodeAliveCount.Add(context.Background(), count)
}

func (stats *xTreeSetStats) IncreaseNodeSpawnedCount() {
	if stats == nil {
		return
	}
	stats.nodeSpawnedCount.Add(context.Background(), 1)
}

func (stats *xTreeSetStats) IncreaseNodeCopiedCount() {
	if stats == nil {
		return
	}
	stats.nodeCopiedCount.Add(context.Background(), 1)
}

func (stats *xTreeSetStats) IncreaseGcStartedCount() {
	if stats == nil {
		return
	}
	stats.gcStartedCount.Add(context.Background(), 1)
	stats.gcRunning.Store(1)
}

func (stats *xTreeSetStats) IncreaseGcCompletedCount() {
	if stats == nil {
		return
	}
	stats.gcCompletedCount.Add(context.Background(), 1)
	stats.gcRunning.Store(0)
}

func (stats *xTreeSetStats) RecordGcDuration(durationMs int64) {
	if stats == nil {
		return
	}
	stats.gcDurations.Record(context.Background(), durationMs)
}

func newTreeSetStats[E infra.OrderedKey](opt *xTreeSetOptions[E]) *xTreeSetStats {
	meterName := fmt.Sprintf("%s/%s", TreeSetStatsName, opt.getName())
	stats := &xTreeSetStats{
		operationCount: lo.Must[metric.Int64Counter](otel.Meter(meterName).
			Int64Counter(
				"xts.op.count",
				metric.WithDescription("The number of operations submitted to the tree set."),
			),
		),
		replyCount: lo.Must[metric.Int64Counter](otel.Meter(meterName).
			Int64Counter(
				"xts.reply.count",
				metric.WithDescription("The number of replies sent to requesters."),
			),
		),
		nodeAliveCount: lo.Must[metric.Int64UpDownCounter](otel.Meter(meterName).
			Int64UpDownCounter(
				"xts.node.alive.count",
				metric.WithDescription("The number of live node goroutines."),
			),
		),
		nodeSpawnedCount: lo.Must[metric.Int64Counter](otel.Meter(meterName).
			Int64Counter(
				"xts.node.spawned.count",
				metric.WithDescription("The number of node goroutines spawned."),
			),
		),
		nodeCopiedCount: lo.Must[metric.Int64Counter](otel.Meter(meterName).
			Int64Counter(
				"xts.node.copied.count",
				metric.WithDescription("The number of elements replicated into a compacted tree."),
			),
		),
		gcStartedCount: lo.Must[metric.Int64Counter](otel.Meter(meterName).
			Int64Counter(
				"xts.gc.started.count",
				metric.WithDescription("The number of garbage collection cycles started."),
			),
		),
		gcCompletedCount: lo.Must[metric.Int64Counter](otel.Meter(meterName).
			Int64Counter(
				"xts.gc.completed.count",
				metric.WithDescription("The number of garbage collection cycles completed."),
			),
		),
		gcDurations: lo.Must[metric.Int64Histogram](otel.Meter(meterName).
			Int64Histogram(
				"xts.gc.duration",
				metric.WithDescription("The duration of a garbage collection cycle. In milliseconds."),
				metric.WithUnit("ms"),
			),
		),
	}
	stats.gcState = lo.Must[metric.Int64ObservableGauge](otel.Meter(meterName).
		Int64ObservableGauge(
			"xts.gc.state",
			metric.WithDescription("Whether a garbage collection cycle is in flight (0 or 1)."),
			metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
				ob.Observe(stats.gcRunning.Load())
				return nil
			}),
		),
	)
	return stats
}
