package treeset

import (
	"context"
	"errors"

	"github.com/benz9527/xtreeset/lib/infra"
	"github.com/benz9527/xtreeset/lib/ipc"
)

var (
	ErrTreeSetStopped        = errors.New("tree set has been stopped")
	ErrTreeSetEmptyRequester = errors.New("tree set operation requires a requester mailbox")
	ErrTreeSetUnknownReply   = errors.New("tree set received an unknown operation reply")
)

// Position is the branch discriminator relative to a node's element,
// reported by the node comparator.
type Position int8

const (
	Left Position = -1 + iota
	Equal
	Right
)

func (p Position) String() string {
	switch p {
	case Left:
		return "left"
	case Equal:
		return "equal"
	case Right:
		return "right"
	default:
	}
	return "unknown"
}

// OperationID is the caller-chosen correlation token. The tree never
// validates or deduplicates it; the caller owns the uniqueness scheme.
type OperationID uint64

type opKind uint8

const (
	opInsert opKind = iota
	opContains
	opRemove
)

func (k opKind) String() string {
	switch k {
	case opInsert:
		return "insert"
	case opContains:
		return "contains"
	case opRemove:
		return "remove"
	default:
	}
	return "unknown"
}

// Operation is an asynchronous, correlated set request. The answering
// node replies directly to Requester, bypassing the coordinator and all
// intermediate nodes.
type Operation[E infra.OrderedKey] struct {
	Requester ipc.SendOnlyChannel[OperationReply]
	ID        OperationID
	Elem      E
	kind      opKind
}

func (Operation[E]) isNodeMessage() {}

// OperationReply is sent exactly once per accepted Operation, carrying
// the operation's ID unchanged.
type OperationReply interface {
	OpID() OperationID
}

type OperationFinished struct {
	ID OperationID
}

func (r OperationFinished) OpID() OperationID { return r.ID }

type ContainsResult struct {
	ID     OperationID
	Result bool
}

func (r ContainsResult) OpID() OperationID { return r.ID }

var (
	_ OperationReply = OperationFinished{}
	_ OperationReply = ContainsResult{}
)

// TreeSet is a mutable set of ordered keys backed by a binary search
// tree in which every element is an independently scheduled goroutine
// owning its private state. All access is asynchronous message passing.
//
// Insert, Contains and Remove submit raw correlated operations; the
// reply lands on the requester mailbox, not on a method return path.
// Add, Has and Delete are synchronous conveniences built on top of the
// raw API with an internal one-shot mailbox.
//
// CollectGarbage compacts tombstoned elements through a background
// tree-to-tree copy. It is opaque to callers: operations stay available
// for the whole cycle and no completion acknowledgment is ever sent.
type TreeSet[E infra.OrderedKey] interface {
	Insert(requester ipc.SendOnlyChannel[OperationReply], opID OperationID, elem E) error
	Contains(requester ipc.SendOnlyChannel[OperationReply], opID OperationID, elem E) error
	Remove(requester ipc.SendOnlyChannel[OperationReply], opID OperationID, elem E) error

	Add(ctx context.Context, elem E) error
	Has(ctx context.Context, elem E) (bool, error)
	Delete(ctx context.Context, elem E) error

	CollectGarbage() error
	Shutdown() error
}

// nodeMessage is anything a node or the coordinator mailbox accepts.
type nodeMessage interface {
	isNodeMessage()
}

// nodeRef is the only way one node is visible to another: the send side
// of its mailbox, never a shared pointer to its state.
type nodeRef = ipc.SendOnlyChannel[nodeMessage]

// copyToMsg asks the receiving subtree to replicate itself into the
// tree rooted at newRoot; replyTo receives the CopyFinished handshake.
type copyToMsg struct {
	newRoot nodeRef
	replyTo nodeRef
}

func (copyToMsg) isNodeMessage() {}

// copyFinishedMsg confirms that the sender's whole subtree lives in the
// new tree.
type copyFinishedMsg struct {
	from nodeRef
}

func (copyFinishedMsg) isNodeMessage() {}

// terminateMsg tears a subtree down, cascading and fire-and-forget.
type terminateMsg struct{}

func (terminateMsg) isNodeMessage() {}

// gcTriggerMsg starts a garbage collection cycle. No parameters, no
// acknowledgment.
type gcTriggerMsg struct{}

func (gcTriggerMsg) isNodeMessage() {}
