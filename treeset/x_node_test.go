package treeset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benz9527/xtreeset/lib/id"
	"github.com/benz9527/xtreeset/lib/ipc"
	"github.com/benz9527/xtreeset/xlog"
)

func testNodeShared(t *testing.T) *treeSetShared[int64] {
	t.Helper()
	gen, err := id.MonotonicNonZeroID()
	require.NoError(t, err)
	return &treeSetShared[int64]{
		ctx:         context.TODO(),
		logger:      xlog.NewXLogger(),
		idGenerator: gen.Number,
		mailboxSize: 8,
	}
}

func testLeafNode(sh *treeSetShared[int64], elem int64, removed, sentinel bool) *xNode[int64] {
	n := &xNode[int64]{
		sh:       sh,
		inbox:    ipc.NewUnboundedClosableChannel[nodeMessage](sh.mailboxSize),
		children: make(map[Position]nodeRef, 2),
		elem:     elem,
		removed:  removed,
		sentinel: sentinel,
	}
	n.self = n.inbox
	return n
}

func testRecvReply(t *testing.T, ch ipc.ClosableChannel[OperationReply]) OperationReply {
	t.Helper()
	select {
	case rpl := <-ch.Wait():
		return rpl
	case <-time.After(time.Second):
		t.Fatal("no reply within 1s")
	}
	return nil
}

func TestXNode_Evaluate(t *testing.T) {
	sh := testNodeShared(t)
	n := testLeafNode(sh, 10, false, false)
	assert.Equal(t, Equal, n.evaluate(10))
	assert.Equal(t, Left, n.evaluate(3))
	assert.Equal(t, Right, n.evaluate(27))

	sentinel := testLeafNode(sh, 0, true, true)
	assert.Equal(t, Right, sentinel.evaluate(0))
	assert.Equal(t, Right, sentinel.evaluate(-5))
	assert.Equal(t, Right, sentinel.evaluate(5))
}

func TestXNode_HandleOperation_EqualCases(t *testing.T) {
	sh := testNodeShared(t)
	n := testLeafNode(sh, 10, false, false)
	replyC := ipc.NewSafeClosableChannel[OperationReply](4)

	n.handleOperation(Operation[int64]{kind: opContains, Requester: replyC, ID: 1, Elem: 10})
	rpl := testRecvReply(t, replyC)
	require.IsType(t, ContainsResult{}, rpl)
	assert.Equal(t, OperationID(1), rpl.OpID())
	assert.True(t, rpl.(ContainsResult).Result)

	n.handleOperation(Operation[int64]{kind: opRemove, Requester: replyC, ID: 2, Elem: 10})
	rpl = testRecvReply(t, replyC)
	require.IsType(t, OperationFinished{}, rpl)
	assert.Equal(t, OperationID(2), rpl.OpID())
	assert.True(t, n.removed)

	n.handleOperation(Operation[int64]{kind: opContains, Requester: replyC, ID: 3, Elem: 10})
	rpl = testRecvReply(t, replyC)
	assert.False(t, rpl.(ContainsResult).Result)

	// Re-inserting the tombstoned element revives it in place.
	n.handleOperation(Operation[int64]{kind: opInsert, Requester: replyC, ID: 4, Elem: 10})
	rpl = testRecvReply(t, replyC)
	require.IsType(t, OperationFinished{}, rpl)
	assert.False(t, n.removed)
}

func TestXNode_HandleOperation_MissingChildCases(t *testing.T) {
	sh := testNodeShared(t)
	n := testLeafNode(sh, 10, false, false)
	replyC := ipc.NewSafeClosableChannel[OperationReply](4)

	n.handleOperation(Operation[int64]{kind: opContains, Requester: replyC, ID: 1, Elem: 5})
	rpl := testRecvReply(t, replyC)
	require.IsType(t, ContainsResult{}, rpl)
	assert.False(t, rpl.(ContainsResult).Result)

	n.handleOperation(Operation[int64]{kind: opRemove, Requester: replyC, ID: 2, Elem: 5})
	rpl = testRecvReply(t, replyC)
	require.IsType(t, OperationFinished{}, rpl)
	assert.Equal(t, OperationID(2), rpl.OpID())
	assert.Empty(t, n.children)

	n.handleOperation(Operation[int64]{kind: opInsert, Requester: replyC, ID: 3, Elem: 5})
	rpl = testRecvReply(t, replyC)
	require.IsType(t, OperationFinished{}, rpl)
	require.Contains(t, n.children, Left)

	// The freshly spawned child answers forwarded operations directly.
	n.handleOperation(Operation[int64]{kind: opContains, Requester: replyC, ID: 4, Elem: 5})
	rpl = testRecvReply(t, replyC)
	require.IsType(t, ContainsResult{}, rpl)
	assert.Equal(t, OperationID(4), rpl.OpID())
	assert.True(t, rpl.(ContainsResult).Result)

	_ = n.children[Left].Send(terminateMsg{})
}

func TestXNode_CopyProtocol_LiveLeaf(t *testing.T) {
	sh := testNodeShared(t)
	n := testLeafNode(sh, 10, false, false)
	parent := ipc.NewSafeClosableChannel[nodeMessage](4)
	newRoot := ipc.NewSafeClosableChannel[nodeMessage](4)

	n.startCopy(copyToMsg{newRoot: newRoot, replyTo: parent})
	require.Equal(t, nodeStateCopying, n.state)
	require.False(t, n.insertConfirmed)

	// The leaf must first replicate itself into the new tree.
	var replica Operation[int64]
	select {
	case msg := <-newRoot.Wait():
		require.IsType(t, Operation[int64]{}, msg)
		replica = msg.(Operation[int64])
	case <-time.After(time.Second):
		t.Fatal("no replication insert within 1s")
	}
	assert.Equal(t, opInsert, replica.kind)
	assert.Equal(t, int64(10), replica.Elem)
	select {
	case msg := <-parent.Wait():
		t.Fatalf("premature copy-finished: %v", msg)
	default:
	}

	// Unrelated replies never confirm the replication.
	n.handleReplicaReply(OperationFinished{ID: replica.ID + 1})
	require.False(t, n.insertConfirmed)

	n.handleReplicaReply(OperationFinished{ID: replica.ID})
	require.True(t, n.insertConfirmed)
	select {
	case msg := <-parent.Wait():
		require.IsType(t, copyFinishedMsg{}, msg)
		assert.Equal(t, n.self, msg.(copyFinishedMsg).from)
	case <-time.After(time.Second):
		t.Fatal("no copy-finished within 1s")
	}
}

func TestXNode_CopyProtocol_TombstonedLeaf(t *testing.T) {
	sh := testNodeShared(t)
	n := testLeafNode(sh, 10, true, false)
	parent := ipc.NewSafeClosableChannel[nodeMessage](4)
	newRoot := ipc.NewSafeClosableChannel[nodeMessage](4)

	n.startCopy(copyToMsg{newRoot: newRoot, replyTo: parent})

	// A tombstoned leaf needs no replica and confirms at once.
	select {
	case msg := <-newRoot.Wait():
		t.Fatalf("unexpected replication insert: %v", msg)
	default:
	}
	select {
	case msg := <-parent.Wait():
		require.IsType(t, copyFinishedMsg{}, msg)
	case <-time.After(time.Second):
		t.Fatal("no copy-finished within 1s")
	}
}

func TestXNode_CopyProtocol_WithChildren(t *testing.T) {
	sh := testNodeShared(t)
	n := testLeafNode(sh, 10, true, false)
	left := ipc.NewSafeClosableChannel[nodeMessage](4)
	right := ipc.NewSafeClosableChannel[nodeMessage](4)
	n.children[Left] = left
	n.children[Right] = right
	parent := ipc.NewSafeClosableChannel[nodeMessage](4)
	newRoot := ipc.NewSafeClosableChannel[nodeMessage](4)

	n.startCopy(copyToMsg{newRoot: newRoot, replyTo: parent})
	require.Len(t, n.expected, 3)

	// Both children receive the forwarded copy request.
	for _, childC := range []ipc.ClosableChannel[nodeMessage]{left, right} {
		select {
		case msg := <-childC.Wait():
			require.IsType(t, copyToMsg{}, msg)
			fwd := msg.(copyToMsg)
			assert.Equal(t, nodeRef(newRoot), fwd.newRoot)
			assert.Equal(t, n.self, fwd.replyTo)
		case <-time.After(time.Second):
			t.Fatal("no forwarded copy request within 1s")
		}
	}

	n.handleMessage(copyFinishedMsg{from: left})
	select {
	case msg := <-parent.Wait():
		t.Fatalf("premature copy-finished: %v", msg)
	default:
	}

	n.handleMessage(copyFinishedMsg{from: right})
	select {
	case msg := <-parent.Wait():
		require.IsType(t, copyFinishedMsg{}, msg)
	case <-time.After(time.Second):
		t.Fatal("no copy-finished within 1s")
	}
}

func TestXNode_Copying_OperationsStayActive(t *testing.T) {
	sh := testNodeShared(t)
	n := testLeafNode(sh, 10, false, false)
	parent := ipc.NewSafeClosableChannel[nodeMessage](4)
	newRoot := ipc.NewSafeClosableChannel[nodeMessage](4)
	replyC := ipc.NewSafeClosableChannel[OperationReply](4)

	n.startCopy(copyToMsg{newRoot: newRoot, replyTo: parent})

	// Pre-copy subtree state keeps answering during the cycle.
	n.handleMessage(Operation[int64]{kind: opContains, Requester: replyC, ID: 7, Elem: 10})
	rpl := testRecvReply(t, replyC)
	require.IsType(t, ContainsResult{}, rpl)
	assert.True(t, rpl.(ContainsResult).Result)

	// A duplicated copy request must not reset the bookkeeping.
	n.expected = map[nodeRef]struct{}{parent: {}}
	n.handleMessage(copyToMsg{newRoot: newRoot, replyTo: parent})
	require.Len(t, n.expected, 1)
}
