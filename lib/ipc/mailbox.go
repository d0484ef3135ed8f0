package ipc

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrMailboxClosed reports a send attempt against a closed mailbox.
var ErrMailboxClosed = errors.New("mailbox has been closed")

type ReadOnlyChannel[T comparable] interface {
	Wait() <-chan T
}

type SendOnlyChannel[T comparable] interface {
	Send(v T, nonBlocking ...bool) error
	IsClosed() bool
}

// ClosableChannel is a single-consumer mailbox. The producer side keeps the
// send order of one fixed producer-consumer pair (plain Go channel FIFO),
// which is the only delivery guarantee the tree protocol relies on.
type ClosableChannel[T comparable] interface {
	io.Closer
	ReadOnlyChannel[T]
	SendOnlyChannel[T]
}

// safeClosableChannel is a generic channel wrapper.
// Why we need this wrapper? For the following reasons:
//  1. We need to make sure the channel is closed only once.
//  2. We need to make sure that we would not close the channel when there is still sending data.
//     Let the related goroutines exit, then the channel auto-collected by GC.
type safeClosableChannel[T comparable] struct {
	queueC   chan T // Receive data to temporary queue.
	isClosed atomic.Bool
	once     *sync.Once
}

func (c *safeClosableChannel[T]) IsClosed() bool {
	return c.isClosed.Load()
}

// Close According to the Go memory model, a send operation on a channel happens before
// the corresponding to receive from that channel completes
// https://go.dev/doc/articles/race_detector
func (c *safeClosableChannel[T]) Close() error {
	c.once.Do(func() {
		// Note: forbid to call close(queueC) directly,
		// because it will cause panic of "send on closed channel"
		c.isClosed.Store(true)
	})
	return nil
}

func (c *safeClosableChannel[T]) Wait() <-chan T {
	return c.queueC
}

func (c *safeClosableChannel[T]) Send(v T, nonBlocking ...bool) error {
	if c.isClosed.Load() {
		return ErrMailboxClosed
	}

	if len(nonBlocking) <= 0 {
		nonBlocking = []bool{false}
	}
	if !nonBlocking[0] {
		c.queueC <- v
	} else {
		// non blocking send
		select {
		case c.queueC <- v:
		default:

		}
	}
	return nil
}

var (
	_ ReadOnlyChannel[struct{}] = &safeClosableChannel[struct{}]{}      // type check assertion
	_ SendOnlyChannel[struct{}] = &safeClosableChannel[struct{}]{}      // type check assertion
	_ ReadOnlyChannel[struct{}] = &unboundedClosableChannel[struct{}]{} // type check assertion
	_ SendOnlyChannel[struct{}] = &unboundedClosableChannel[struct{}]{} // type check assertion
)

// unboundedClosableChannel keeps a growable queue between the send and
// receive sides, pumped by its own goroutine. A send parks only while
// the pump is mid-handoff, never on a slow consumer, so two parties
// sending to each other at the same time cannot form a wait cycle.
type unboundedClosableChannel[T comparable] struct {
	in       chan T
	out      chan T
	stopC    chan struct{}
	isClosed atomic.Bool
	once     *sync.Once
}

func (c *unboundedClosableChannel[T]) IsClosed() bool {
	return c.isClosed.Load()
}

func (c *unboundedClosableChannel[T]) Close() error {
	c.once.Do(func() {
		c.isClosed.Store(true)
		close(c.stopC)
	})
	return nil
}

func (c *unboundedClosableChannel[T]) Wait() <-chan T {
	return c.out
}

func (c *unboundedClosableChannel[T]) Send(v T, nonBlocking ...bool) error {
	if c.isClosed.Load() {
		return ErrMailboxClosed
	}
	select {
	case c.in <- v:
		return nil
	case <-c.stopC:
		return ErrMailboxClosed
	}
}

// pump owns the queue. A single inlet channel serializes producers, so
// the per-pair FIFO guarantee of a plain channel is preserved.
func (c *unboundedClosableChannel[T]) pump(capacityHint int) {
	queue := make([]T, 0, capacityHint)
	for {
		if len(queue) == 0 {
			select {
			case v := <-c.in:
				queue = append(queue, v)
			case <-c.stopC:
				return
			}
		}
		select {
		case v := <-c.in:
			queue = append(queue, v)
		case c.out <- queue[0]:
			queue = queue[1:]
		case <-c.stopC:
			return
		}
	}
}

// NewUnboundedClosableChannel is the mailbox for always-on consumers.
// Close stops the pump goroutine; undelivered messages are dropped with
// it, matching the fire-and-forget terminate semantics of its callers.
func NewUnboundedClosableChannel[T comparable](capacityHint ...int) ClosableChannel[T] {
	size := 64
	if len(capacityHint) > 0 && capacityHint[0] > 0 {
		size = capacityHint[0]
	}
	c := &unboundedClosableChannel[T]{
		in:    make(chan T),
		out:   make(chan T),
		stopC: make(chan struct{}),
		once:  &sync.Once{},
	}
	go c.pump(size)
	return c
}

func NewSafeClosableChannel[T comparable](chSize ...int) ClosableChannel[T] {
	isNoCacheCh := true
	size := 1
	if len(chSize) > 0 {
		if chSize[0] > 0 {
			size = chSize[0]
			isNoCacheCh = false
		}
	}
	if isNoCacheCh {
		return &safeClosableChannel[T]{
			queueC: make(chan T),
			once:   &sync.Once{},
		}
	}
	return &safeClosableChannel[T]{
		queueC: make(chan T, size),
		once:   &sync.Once{},
	}
}
