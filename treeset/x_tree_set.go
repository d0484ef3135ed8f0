package treeset

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/benz9527/xtreeset/lib/infra"
	"github.com/benz9527/xtreeset/lib/ipc"
	"github.com/benz9527/xtreeset/xlog"
)

type coordinatorState uint8

const (
	coordinatorStateNormal coordinatorState = iota
	coordinatorStateCollectingGarbage
)

// xTreeSet is the coordinator. It owns the root handle and the GC state
// machine; clients only ever talk to its inbox, never to nodes directly.
type xTreeSet[E infra.OrderedKey] struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opts      *xTreeSetOptions[E]
	logger    xlog.XLogger
	stats     *xTreeSetStats
	shared    *treeSetShared[E]
	gopool    *ants.Pool
	inbox     ipc.ClosableChannel[nodeMessage]
	isRunning *atomic.Bool
	// Fields below are owned by the schedule goroutine.
	state       coordinatorState
	root        nodeRef
	pendingRoot nodeRef
	gcStartedAt time.Time
}

var _ TreeSet[int64] = (*xTreeSet[int64])(nil)

func NewXTreeSet[E infra.OrderedKey](ctx context.Context, opts ...TreeSetOption[E]) (TreeSet[E], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tsOpts := &xTreeSetOptions[E]{}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o(tsOpts)
	}
	tsOpts.Validate()

	ctx, cancel := context.WithCancel(ctx)
	ts := &xTreeSet[E]{
		ctx:       ctx,
		cancel:    cancel,
		opts:      tsOpts,
		logger:    tsOpts.getLogger(),
		stats:     tsOpts.getStats(),
		inbox:     ipc.NewUnboundedClosableChannel[nodeMessage](tsOpts.getMailboxSize()),
		isRunning: &atomic.Bool{},
	}
	ts.shared = &treeSetShared[E]{
		ctx:         ctx,
		logger:      ts.logger,
		stats:       ts.stats,
		idGenerator: tsOpts.getIDGenerator(),
		mailboxSize: tsOpts.getMailboxSize(),
	}

	gopool, err := ants.NewPool(tsOpts.getWorkerPoolSize(),
		ants.WithPreAlloc(true),
		ants.WithLogger(xlog.NewAntsXLogger(ts.logger)),
	)
	if err != nil {
		cancel()
		return nil, infra.WrapErrorStack(err)
	}
	ts.gopool = gopool

	// The zero element anchors the tree. It is marked as a sentinel so
	// evaluate never treats it as a member, even for the zero value of E.
	var zero E
	ts.root = spawnNode(ts.shared, zero, true, true)

	ts.isRunning.Store(true)
	if err := gopool.Submit(ts.schedule); err != nil {
		ts.isRunning.Store(false)
		cancel()
		gopool.Release()
		return nil, infra.WrapErrorStack(err)
	}
	return ts, nil
}

func (ts *xTreeSet[E]) schedule() {
	defer func() {
		if err := recover(); err != nil {
			ts.logger.Error(nil, "[x-tree-set] coordinator loop panic recover",
				zap.Any("recover", err),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	for {
		select {
		case <-ts.ctx.Done():
			ts.terminateTrees()
			_ = ts.inbox.Close()
			return
		case msg := <-ts.inbox.Wait():
			ts.handleMessage(msg)
		}
	}
}

func (ts *xTreeSet[E]) handleMessage(msg nodeMessage) {
	switch m := msg.(type) {
	case Operation[E]:
		// Both coordinator states forward to the old root; during GC the
		// tree under compaction stays the sole source of truth.
		ts.stats.IncreaseOperationCount(m.kind)
		_ = ts.root.Send(m)
	case gcTriggerMsg:
		if ts.state == coordinatorStateCollectingGarbage {
			ts.logger.Warn("[x-tree-set] gc trigger ignored, collection already running",
				zap.String("name", ts.opts.getName()),
			)
			return
		}
		ts.state = coordinatorStateCollectingGarbage
		ts.gcStartedAt = time.Now()
		ts.stats.IncreaseGcStartedCount()
		var zero E
		ts.pendingRoot = spawnNode(ts.shared, zero, true, true)
		_ = ts.root.Send(copyToMsg{newRoot: ts.pendingRoot, replyTo: ts.inbox})
	case copyFinishedMsg:
		if ts.state != coordinatorStateCollectingGarbage || m.from != ts.root {
			return
		}
		oldRoot := ts.root
		ts.root = ts.pendingRoot
		ts.pendingRoot = nil
		ts.state = coordinatorStateNormal
		// Fire-and-forget; the old tree stops on its own schedule.
		_ = oldRoot.Send(terminateMsg{})
		ts.stats.IncreaseGcCompletedCount()
		ts.stats.RecordGcDuration(time.Since(ts.gcStartedAt).Milliseconds())
		if hook := ts.opts.gcDoneHook; hook != nil {
			hook()
		}
	default:
	}
}

func (ts *xTreeSet[E]) submit(msg nodeMessage) error {
	if !ts.isRunning.Load() {
		return infra.WrapErrorStack(ErrTreeSetStopped)
	}
	if err := ts.inbox.Send(msg); err != nil {
		return infra.WrapErrorStack(err)
	}
	return nil
}

// Insert submits an asynchronous insert. Exactly one OperationFinished
// carrying id will eventually reach requester.
func (ts *xTreeSet[E]) Insert(requester ipc.SendOnlyChannel[OperationReply], id OperationID, elem E) error {
	if requester == nil {
		return infra.WrapErrorStack(ErrTreeSetEmptyRequester)
	}
	return ts.submit(Operation[E]{kind: opInsert, Requester: requester, ID: id, Elem: elem})
}

// Contains submits an asynchronous membership test. Exactly one
// ContainsResult carrying id will eventually reach requester.
func (ts *xTreeSet[E]) Contains(requester ipc.SendOnlyChannel[OperationReply], id OperationID, elem E) error {
	if requester == nil {
		return infra.WrapErrorStack(ErrTreeSetEmptyRequester)
	}
	return ts.submit(Operation[E]{kind: opContains, Requester: requester, ID: id, Elem: elem})
}

// Remove submits an asynchronous remove. Removal is logical; the node
// stays resident until the next garbage collection compacts the tree.
func (ts *xTreeSet[E]) Remove(requester ipc.SendOnlyChannel[OperationReply], id OperationID, elem E) error {
	if requester == nil {
		return infra.WrapErrorStack(ErrTreeSetEmptyRequester)
	}
	return ts.submit(Operation[E]{kind: opRemove, Requester: requester, ID: id, Elem: elem})
}

// CollectGarbage requests a compaction cycle. There is no completion
// acknowledgment; collection is observable only through latency.
func (ts *xTreeSet[E]) CollectGarbage() error {
	return ts.submit(gcTriggerMsg{})
}

// roundTrip adapts the raw async protocol to a blocking call.
func (ts *xTreeSet[E]) roundTrip(ctx context.Context, kind opKind, elem E) (OperationReply, error) {
	replyC := ipc.NewSafeClosableChannel[OperationReply](1)
	id := OperationID(ts.shared.idGenerator())
	if err := ts.submit(Operation[E]{kind: kind, Requester: replyC, ID: id, Elem: elem}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		_ = replyC.Close()
		return nil, infra.WrapErrorStack(ctx.Err())
	case rpl := <-replyC.Wait():
		if rpl.OpID() != id {
			return nil, infra.WrapErrorStack(ErrTreeSetUnknownReply)
		}
		return rpl, nil
	}
}

func (ts *xTreeSet[E]) Add(ctx context.Context, elem E) error {
	_, err := ts.roundTrip(ctx, opInsert, elem)
	return err
}

func (ts *xTreeSet[E]) Has(ctx context.Context, elem E) (bool, error) {
	rpl, err := ts.roundTrip(ctx, opContains, elem)
	if err != nil {
		return false, err
	}
	res, ok := rpl.(ContainsResult)
	if !ok {
		return false, infra.WrapErrorStack(ErrTreeSetUnknownReply)
	}
	return res.Result, nil
}

func (ts *xTreeSet[E]) Delete(ctx context.Context, elem E) error {
	_, err := ts.roundTrip(ctx, opRemove, elem)
	return err
}

func (ts *xTreeSet[E]) Shutdown() error {
	if old := ts.isRunning.Swap(false); !old {
		return infra.WrapErrorStack(ErrTreeSetStopped)
	}
	ts.cancel()
	_ = ts.inbox.Close()
	ts.gopool.Release()
	return nil
}

// terminateTrees runs on the schedule goroutine after cancellation, so
// it may still touch root and pendingRoot.
func (ts *xTreeSet[E]) terminateTrees() {
	if ts.root != nil {
		_ = ts.root.Send(terminateMsg{}, true)
	}
	if ts.pendingRoot != nil {
		_ = ts.pendingRoot.Send(terminateMsg{}, true)
	}
}
