package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSafeClosableChannel_SendAndWait(t *testing.T) {
	ch := NewSafeClosableChannel[int](4)
	for i := 1; i <= 4; i++ {
		require.NoError(t, ch.Send(i))
	}
	for i := 1; i <= 4; i++ {
		select {
		case v := <-ch.Wait():
			require.Equal(t, i, v)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("mailbox starved")
		}
	}
}

func TestSafeClosableChannel_CloseOnlyOnce(t *testing.T) {
	ch := NewSafeClosableChannel[int](1)
	require.False(t, ch.IsClosed())
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.True(t, ch.IsClosed())
	require.ErrorIs(t, ch.Send(1), ErrMailboxClosed)
}

func TestSafeClosableChannel_NonBlockingSend(t *testing.T) {
	ch := NewSafeClosableChannel[int](1)
	require.NoError(t, ch.Send(1, true))
	// Buffer is full, the non blocking send drops the value instead of
	// parking the producer goroutine.
	require.NoError(t, ch.Send(2, true))
	v := <-ch.Wait()
	require.Equal(t, 1, v)
	select {
	case v = <-ch.Wait():
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestUnboundedClosableChannel_SendNeverParksOnSlowConsumer(t *testing.T) {
	ch := NewUnboundedClosableChannel[int](8)
	// Far beyond the capacity hint, with nobody receiving yet.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			require.NoError(t, ch.Send(i))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer parked on an unbounded mailbox")
	}
	for i := 0; i < 10_000; i++ {
		select {
		case v := <-ch.Wait():
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("mailbox starved at %d", i)
		}
	}
}

func TestUnboundedClosableChannel_MutualSendersCannotWaitOnEachOther(t *testing.T) {
	a := NewUnboundedClosableChannel[int](1)
	b := NewUnboundedClosableChannel[int](1)
	// Two parties flooding each other without draining; with bounded
	// mailboxes this is the classic wait cycle.
	done := make(chan struct{}, 2)
	for _, pair := range [][2]ClosableChannel[int]{{a, b}, {b, a}} {
		go func(self, peer ClosableChannel[int]) {
			for i := 0; i < 1024; i++ {
				require.NoError(t, peer.Send(i))
			}
			done <- struct{}{}
		}(pair[0], pair[1])
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("mutual senders deadlocked")
		}
	}
}

func TestUnboundedClosableChannel_CloseStopsPump(t *testing.T) {
	ch := NewUnboundedClosableChannel[int]()
	require.NoError(t, ch.Send(1))
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.True(t, ch.IsClosed())
	require.ErrorIs(t, ch.Send(2), ErrMailboxClosed)
}

func TestSafeClosableChannel_FIFOAcrossProducerPair(t *testing.T) {
	ch := NewSafeClosableChannel[int](64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			require.NoError(t, ch.Send(i))
		}
	}()
	for i := 0; i < 64; i++ {
		require.Equal(t, i, <-ch.Wait())
	}
	<-done
}
