package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToSessionAndAllTopic(t *testing.T) {
	bus := New()
	defer bus.Close()

	session := bus.Subscribe("sess-1")
	all := bus.Subscribe(AllTopic)
	other := bus.Subscribe("sess-2")

	bus.Publish("sess-1", Event{Kind: KindAgentStart})

	select {
	case ev := <-session.Events():
		if ev.SessionID != "sess-1" || ev.Kind != KindAgentStart {
			t.Fatalf("unexpected event on session topic: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session subscriber")
	}

	select {
	case ev := <-all.Events():
		if ev.SessionID != "sess-1" {
			t.Fatalf("unexpected event on all topic: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for all-topic subscriber")
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("unrelated session topic should not receive event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.Subscribe("sess-1")

	bus.Publish("sess-1", Event{Kind: KindMessageStart})
	bus.Publish("sess-1", Event{Kind: KindMessageDelta})

	first := <-sub.Events()
	second := <-sub.Events()
	if second.Sequence <= first.Sequence {
		t.Fatalf("expected strictly increasing sequence, got %d then %d", first.Sequence, second.Sequence)
	}
}

func TestSubscribeBufferedDropsOldestOnOverflow(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.SubscribeBuffered("sess-1", 2)

	bus.Publish("sess-1", Event{Kind: KindMessageStart, Text: "1"})
	bus.Publish("sess-1", Event{Kind: KindMessageStart, Text: "2"})
	bus.Publish("sess-1", Event{Kind: KindMessageStart, Text: "3"})

	first := <-sub.Events()
	second := <-sub.Events()
	if first.Text != "2" || second.Text != "3" {
		t.Fatalf("expected oldest event dropped, got %q then %q", first.Text, second.Text)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	defer bus.Close()
	sub := bus.Subscribe("sess-1")
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or block.
	bus.Publish("sess-1", Event{Kind: KindAgentEnd})
}
