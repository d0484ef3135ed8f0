package treeset

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/benz9527/xtreeset/lib/id"
	"github.com/benz9527/xtreeset/lib/infra"
	"github.com/benz9527/xtreeset/xlog"
)

const (
	defaultMinMailboxSize    = 8
	defaultMinWorkerPoolSize = 1
)

type xTreeSetOptions[E infra.OrderedKey] struct {
	name           string
	idGenerator    id.Gen
	logger         xlog.XLogger
	stats          *xTreeSetStats
	gcDoneHook     func()
	mailboxSize    int
	workPoolSize   int
	isValueChecked *atomic.Bool
	enableStats    bool
}

func (opt *xTreeSetOptions[E]) getName() string {
	if opt.isValueChecked == nil || !opt.isValueChecked.Load() {
		panic("value unchecked")
	}
	if opt.name == "" {
		return fmt.Sprintf("xts-%s-%d", runtime.GOOS, opt.getIDGenerator()())
	}
	return opt.name
}

func (opt *xTreeSetOptions[E]) getMailboxSize() int {
	if opt.isValueChecked == nil || !opt.isValueChecked.Load() {
		panic("value unchecked")
	}
	if opt.mailboxSize < defaultMinMailboxSize {
		return defaultMinMailboxSize
	}
	return opt.mailboxSize
}

func (opt *xTreeSetOptions[E]) getWorkerPoolSize() int {
	if opt.isValueChecked == nil || !opt.isValueChecked.Load() {
		panic("value unchecked")
	}
	if opt.workPoolSize < defaultMinWorkerPoolSize {
		return defaultMinWorkerPoolSize
	}
	return opt.workPoolSize
}

func (opt *xTreeSetOptions[E]) getIDGenerator() id.Gen {
	if opt.isValueChecked == nil || !opt.isValueChecked.Load() {
		panic("value unchecked")
	}
	if opt.idGenerator == nil {
		gen, err := id.MonotonicNonZeroID()
		if err != nil {
			panic(err)
		}
		opt.idGenerator = gen.Number
	}
	return opt.idGenerator
}

func (opt *xTreeSetOptions[E]) getLogger() xlog.XLogger {
	if opt.isValueChecked == nil || !opt.isValueChecked.Load() {
		panic("value unchecked")
	}
	if opt.logger == nil {
		opt.logger = xlog.NewXLogger()
	}
	return opt.logger
}

func (opt *xTreeSetOptions[E]) getStats() *xTreeSetStats {
	return opt.stats
}

func (opt *xTreeSetOptions[E]) Validate() {
	opt.isValueChecked = &atomic.Bool{}
	if opt.mailboxSize > 0 && opt.mailboxSize < defaultMinMailboxSize {
		slog.Warn("[x-tree-set options] adjust the mailbox size", "from", opt.mailboxSize, "to", defaultMinMailboxSize)
		opt.mailboxSize = defaultMinMailboxSize
	}
	opt.isValueChecked.Store(true)
	if opt.enableStats {
		opt.stats = newTreeSetStats(opt)
	}
}

type TreeSetOption[E infra.OrderedKey] func(option *xTreeSetOptions[E])

func WithTreeSetName[E infra.OrderedKey](name string) TreeSetOption[E] {
	return func(opt *xTreeSetOptions[E]) {
		if len(strings.TrimSpace(name)) <= 0 {
			panic("tree-set's name must not be empty or blank")
		}
		opt.name = name
	}
}

func WithTreeSetMailboxSize[E infra.OrderedKey](size int) TreeSetOption[E] {
	return func(opt *xTreeSetOptions[E]) {
		if size < defaultMinMailboxSize {
			panic(fmt.Sprintf("tree-set's mailbox size must be greater than or equals to %d", defaultMinMailboxSize))
		}
		opt.mailboxSize = size
	}
}

func WithTreeSetWorkerPoolSize[E infra.OrderedKey](poolSize int) TreeSetOption[E] {
	return func(opt *xTreeSetOptions[E]) {
		if poolSize < defaultMinWorkerPoolSize {
			panic(fmt.Sprintf("tree-set's work pool size must be greater than or equals to %d", defaultMinWorkerPoolSize))
		}
		opt.workPoolSize = poolSize
	}
}

func WithTreeSetMonotonicID[E infra.OrderedKey]() TreeSetOption[E] {
	return func(opt *xTreeSetOptions[E]) {
		gen, err := id.MonotonicNonZeroID()
		if err != nil {
			panic(err)
		}
		opt.idGenerator = gen.Number
	}
}

func WithTreeSetLogger[E infra.OrderedKey](logger xlog.XLogger) TreeSetOption[E] {
	return func(opt *xTreeSetOptions[E]) {
		if logger == nil {
			panic("tree-set's logger must be not nil")
		}
		opt.logger = logger
	}
}

func WithTreeSetStats[E infra.OrderedKey]() TreeSetOption[E] {
	return func(opt *xTreeSetOptions[E]) {
		opt.enableStats = true
	}
}

// withTreeSetGCDoneHook is for tests that need to observe the root swap
// of a collection cycle; clients get no completion signal.
func withTreeSetGCDoneHook[E infra.OrderedKey](hook func()) TreeSetOption[E] {
	return func(opt *xTreeSetOptions[E]) {
		opt.gcDoneHook = hook
	}
}

func withTreeSetDebugStatsInit[E infra.OrderedKey](interval int64) TreeSetOption[E] {
	return func(opt *xTreeSetOptions[E]) {
		_, debugLogDisabled := os.LookupEnv("DISABLE_TEST_DEBUG_LOG")
		if debugLogDisabled {
			return
		}

		exp, err := stdoutmetric.New(
			stdoutmetric.WithWriter(os.Stdout),
		)
		if err != nil {
			panic(err)
		}
		mp := metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(exp, metric.WithInterval(time.Duration(interval)*time.Second))))
		otel.SetMeterProvider(mp)
	}
}
