package roomhub

import (
	"testing"
	"time"

	"chatty/internal/protocol"
)

func testRoom() protocol.RoomKey {
	return protocol.RoomKey{Platform: protocol.PlatformTwitch, RoomID: "1"}
}

func TestHubPublishDeliversToSubscriber(t *testing.T) {
	h := New(4)
	room := testRoom()
	sub := h.Subscribe(room)
	defer sub.Unsubscribe()

	ev := &protocol.IngestEvent{Platform: protocol.PlatformTwitch, Room: room}
	h.Publish(ev)

	select {
	case item := <-sub.C:
		if item.Kind != ItemIngest || item.Event != ev {
			t.Fatalf("unexpected item: %+v", item)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published item")
	}
}

func TestHubPublishToUnknownRoomIsNoop(t *testing.T) {
	h := New(4)
	// No subscriber has ever subscribed to this room; Publish must not panic.
	h.Publish(&protocol.IngestEvent{Platform: protocol.PlatformTwitch, Room: testRoom()})
}

func TestHubFanOutToMultipleSubscribers(t *testing.T) {
	h := New(4)
	room := testRoom()
	sub1 := h.Subscribe(room)
	sub2 := h.Subscribe(room)
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	ev := &protocol.IngestEvent{Platform: protocol.PlatformTwitch, Room: room}
	h.Publish(ev)

	for _, c := range []<-chan Item{sub1.C, sub2.C} {
		select {
		case item := <-c:
			if item.Event != ev {
				t.Fatalf("unexpected item: %+v", item)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestHubOverflowProducesLaggedWithoutPenalizingOthers(t *testing.T) {
	h := New(1)
	room := testRoom()
	slow := h.Subscribe(room)  // never drained
	fast := h.Subscribe(room)
	defer slow.Unsubscribe()
	defer fast.Unsubscribe()

	for i := 0; i < 5; i++ {
		h.Publish(&protocol.IngestEvent{Platform: protocol.PlatformTwitch, Room: room})
		<-fast.C // keep the fast subscriber's single-capacity channel empty
	}

	// The slow subscriber's channel holds exactly one item: either the
	// first ingest it ever received, or — once it started lagging — a
	// coalesced Lagged marker.
	select {
	case item := <-slow.C:
		if item.Kind != ItemIngest && item.Kind != ItemLagged {
			t.Fatalf("unexpected item kind: %v", item.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("slow subscriber received nothing at all")
	}
}

func TestHubLaggedCoalescesSuccessiveDrops(t *testing.T) {
	h := New(1)
	room := testRoom()
	sub := h.Subscribe(room)
	defer sub.Unsubscribe()

	// Fill the channel, then publish several more without ever draining,
	// so every publish past the first becomes a drop.
	for i := 0; i < 6; i++ {
		h.Publish(&protocol.IngestEvent{Platform: protocol.PlatformTwitch, Room: room})
	}

	// Exactly one queued item should be observable right now (the original
	// buffered ingest); draining it and publishing once more should then
	// surface a single coalesced Lagged marker, not one per drop.
	first := <-sub.C
	if first.Kind != ItemIngest {
		t.Fatalf("want the original buffered ingest first, got %v", first.Kind)
	}

	h.Publish(&protocol.IngestEvent{Platform: protocol.PlatformTwitch, Room: room})
	second := <-sub.C
	if second.Kind != ItemLagged {
		t.Fatalf("want a coalesced Lagged marker, got %v", second.Kind)
	}
	if second.Dropped == 0 {
		t.Fatal("lagged marker should report a non-zero drop count")
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := New(4)
	room := testRoom()
	sub := h.Subscribe(room)
	sub.Unsubscribe()

	h.Publish(&protocol.IngestEvent{Platform: protocol.PlatformTwitch, Room: room})

	if _, open := <-sub.C; open {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestHubSubscriberCount(t *testing.T) {
	h := New(4)
	room := testRoom()
	if h.SubscriberCount(room) != 0 {
		t.Fatal("expected 0 subscribers before any Subscribe")
	}
	sub := h.Subscribe(room)
	if h.SubscriberCount(room) != 1 {
		t.Fatal("expected 1 subscriber")
	}
	sub.Unsubscribe()
	if h.SubscriberCount(room) != 0 {
		t.Fatal("expected 0 subscribers after Unsubscribe")
	}
}
