package treeset

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/benz9527/xtreeset/lib/id"
	"github.com/benz9527/xtreeset/lib/infra"
	"github.com/benz9527/xtreeset/lib/ipc"
	"github.com/benz9527/xtreeset/xlog"
)

type nodeState uint8

const (
	nodeStateNormal nodeState = iota
	nodeStateCopying
)

// treeSetShared carries the component-wide collaborators every node
// needs. It is read-only after construction, so handing it to node
// goroutines shares no mutable state.
type treeSetShared[E infra.OrderedKey] struct {
	ctx         context.Context
	logger      xlog.XLogger
	stats       *xTreeSetStats
	idGenerator id.Gen
	mailboxSize int
}

// xNode is one element of the set. All of its fields are private to its
// own goroutine; the rest of the tree sees only the mailbox send side.
type xNode[E infra.OrderedKey] struct {
	sh       *treeSetShared[E]
	inbox    ipc.ClosableChannel[nodeMessage]
	self     nodeRef
	children map[Position]nodeRef // grows lazily, entries never removed outside GC
	elem     E
	removed  bool // tombstone
	sentinel bool

	state nodeState
	// Copy protocol bookkeeping, only meaningful while copying.
	// The parent slot inside expected stands in for this node's own
	// replication into the new tree.
	expected        map[nodeRef]struct{}
	insertConfirmed bool
	copyToken       OperationID
	replicaReplyC   ipc.ClosableChannel[OperationReply]
}

func spawnNode[E infra.OrderedKey](sh *treeSetShared[E], elem E, removed, sentinel bool) nodeRef {
	n := &xNode[E]{
		sh:       sh,
		inbox:    ipc.NewUnboundedClosableChannel[nodeMessage](sh.mailboxSize),
		children: make(map[Position]nodeRef, 2),
		elem:     elem,
		removed:  removed,
		sentinel: sentinel,
	}
	n.self = n.inbox
	sh.stats.IncreaseNodeSpawnedCount()
	go n.run()
	return n.self
}

func (n *xNode[E]) run() {
	n.sh.stats.RecordNodeAliveCount(1)
	defer func() {
		if err := recover(); err != nil {
			n.sh.logger.Error(nil, "[x-tree-set] node loop panic recover",
				zap.Any("recover", err),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		n.sh.stats.RecordNodeAliveCount(-1)
	}()
	for {
		select {
		case <-n.sh.ctx.Done():
			_ = n.inbox.Close()
			return
		case msg := <-n.inbox.Wait():
			if stop := n.handleMessage(msg); stop {
				return
			}
		case rpl := <-n.replicaReplyWait():
			n.handleReplicaReply(rpl)
		}
	}
}

// replicaReplyWait exposes the replication reply mailbox for the run
// loop select; a nil channel parks the case outside a copy cycle.
func (n *xNode[E]) replicaReplyWait() <-chan OperationReply {
	if n.replicaReplyC == nil {
		return nil
	}
	return n.replicaReplyC.Wait()
}

func (n *xNode[E]) handleMessage(msg nodeMessage) (stop bool) {
	switch m := msg.(type) {
	case Operation[E]:
		n.handleOperation(m)
	case copyToMsg:
		n.startCopy(m)
	case copyFinishedMsg:
		if n.state != nodeStateCopying {
			return false
		}
		delete(n.expected, m.from)
		n.propagateCopyFinished()
	case terminateMsg:
		for _, child := range n.children {
			_ = child.Send(terminateMsg{})
		}
		_ = n.inbox.Close()
		return true
	default:
		// Out-of-protocol messages are dropped on the floor.
	}
	return false
}

// evaluate compares target against the node's own element. The sentinel
// root anchors the whole tree below its right branch and never matches
// Equal, so no insert can ever toggle it into a live member.
func (n *xNode[E]) evaluate(target E) Position {
	if n.sentinel {
		return Right
	}
	if target == n.elem {
		return Equal
	}
	if target > n.elem {
		return Right
	}
	return Left
}

// handleOperation stays active in both node states. While copying it
// keeps answering from the pre-copy subtree state, so concurrent
// clients observe the old tree's semantics, not a frozen snapshot.
func (n *xNode[E]) handleOperation(op Operation[E]) {
	pos := n.evaluate(op.Elem)
	if pos == Equal {
		switch op.kind {
		case opInsert:
			n.removed = false
			n.reply(op.Requester, OperationFinished{ID: op.ID})
		case opContains:
			n.reply(op.Requester, ContainsResult{ID: op.ID, Result: !n.removed})
		case opRemove:
			n.removed = true
			n.reply(op.Requester, OperationFinished{ID: op.ID})
		}
		return
	}

	if child, ok := n.children[pos]; ok {
		// The child answers the requester directly.
		_ = child.Send(op)
		return
	}

	switch op.kind {
	case opInsert:
		// Ownership of the new element is handed to the fresh child
		// without waiting on it.
		n.children[pos] = spawnNode(n.sh, op.Elem, false, false)
		n.reply(op.Requester, OperationFinished{ID: op.ID})
	case opContains:
		n.reply(op.Requester, ContainsResult{ID: op.ID, Result: false})
	case opRemove:
		// Removing an absent element is a no-op success.
		n.reply(op.Requester, OperationFinished{ID: op.ID})
	}
}

func (n *xNode[E]) reply(requester ipc.SendOnlyChannel[OperationReply], rpl OperationReply) {
	if requester == nil {
		return
	}
	_ = requester.Send(rpl)
	n.sh.stats.IncreaseReplyCount()
}

func (n *xNode[E]) startCopy(m copyToMsg) {
	if n.state == nodeStateCopying {
		// Duplicated trigger, the running cycle already covers it.
		return
	}
	n.state = nodeStateCopying
	n.expected = make(map[nodeRef]struct{}, len(n.children)+1)
	for _, child := range n.children {
		n.expected[child] = struct{}{}
		_ = child.Send(copyToMsg{newRoot: m.newRoot, replyTo: n.self})
	}
	n.expected[m.replyTo] = struct{}{}
	// A tombstoned element needs no replica, it starts pre-confirmed.
	n.insertConfirmed = n.removed
	if !n.removed {
		n.replicaReplyC = ipc.NewSafeClosableChannel[OperationReply](1)
		n.copyToken = OperationID(n.sh.idGenerator())
		_ = m.newRoot.Send(Operation[E]{
			kind:      opInsert,
			Requester: n.replicaReplyC,
			ID:        n.copyToken,
			Elem:      n.elem,
		})
		n.sh.stats.IncreaseNodeCopiedCount()
	}
	n.propagateCopyFinished()
}

func (n *xNode[E]) handleReplicaReply(rpl OperationReply) {
	fin, ok := rpl.(OperationFinished)
	if !ok || fin.ID != n.copyToken {
		return
	}
	n.insertConfirmed = true
	n.replicaReplyC = nil
	n.propagateCopyFinished()
}

// propagateCopyFinished reports completion upward once every child has
// confirmed and the node's own element lives in the new tree (or never
// needed to, because tombstoned). The single remaining expected entry
// is the parent placeholder by construction.
func (n *xNode[E]) propagateCopyFinished() {
	if !n.insertConfirmed || len(n.expected) != 1 {
		return
	}
	for parent := range n.expected {
		_ = parent.Send(copyFinishedMsg{from: n.self})
	}
	n.expected = nil
}
