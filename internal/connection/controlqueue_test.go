package connection

import (
	"testing"
	"time"

	"chatty/internal/protocol"
)

func TestControlQueuePushThenPopFIFO(t *testing.T) {
	q := newControlQueue()
	first := &protocol.Envelope{RequestID: "1"}
	second := &protocol.Envelope{RequestID: "2"}
	q.Push(first)
	q.Push(second)

	got, ok := q.Pop()
	if !ok || got != first {
		t.Fatalf("first pop = %v, %v; want %v, true", got, ok, first)
	}
	got, ok = q.Pop()
	if !ok || got != second {
		t.Fatalf("second pop = %v, %v; want %v, true", got, ok, second)
	}
}

func TestControlQueuePopBlocksUntilPush(t *testing.T) {
	q := newControlQueue()
	done := make(chan *protocol.Envelope, 1)
	go func() {
		env, ok := q.Pop()
		if !ok {
			done <- nil
			return
		}
		done <- env
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before any item was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	want := &protocol.Envelope{RequestID: "late"}
	q.Push(want)

	select {
	case got := <-done:
		if got != want {
			t.Fatalf("Pop = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after Push")
	}
}

func TestControlQueueCloseWakesBlockedPop(t *testing.T) {
	q := newControlQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Pop should report ok=false once the queue is closed and drained")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked Pop")
	}
}

func TestControlQueuePushAfterCloseIsDropped(t *testing.T) {
	q := newControlQueue()
	q.Close()
	q.Push(&protocol.Envelope{RequestID: "dropped"})

	_, ok := q.Pop()
	if ok {
		t.Fatal("items pushed after Close should be silently dropped")
	}
}

func TestControlQueueDrainsRemainingBeforeClosedSignal(t *testing.T) {
	q := newControlQueue()
	want := &protocol.Envelope{RequestID: "pending"}
	q.Push(want)
	q.Close()

	got, ok := q.Pop()
	if !ok || got != want {
		t.Fatalf("Pop after Close should still drain queued items first: got %v, %v", got, ok)
	}
	_, ok = q.Pop()
	if ok {
		t.Fatal("queue should report drained once empty and closed")
	}
}
