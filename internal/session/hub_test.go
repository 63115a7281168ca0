package session

import "testing"

func TestHubReplayAfterSeq(t *testing.T) {
	hub := NewEventHub(16)
	hub.Publish(EventSessionState, "a")
	second := hub.Publish(EventPresenceUpdate, "b")
	hub.Publish(EventLogUpdate, "c")

	replay, _, cancel := hub.Subscribe(second.Seq)
	defer cancel()
	if len(replay) != 1 || replay[0].Payload != "c" {
		t.Fatalf("replay = %v, want just the event after seq %d", replay, second.Seq)
	}
}

func TestHubHistoryBounded(t *testing.T) {
	hub := NewEventHub(2)
	for i := 0; i < 5; i++ {
		hub.Publish(EventLogUpdate, i)
	}
	replay, _, cancel := hub.Subscribe(0)
	defer cancel()
	if len(replay) != 2 {
		t.Fatalf("replay length = %d, want 2", len(replay))
	}
	if replay[0].Payload != 3 || replay[1].Payload != 4 {
		t.Fatalf("replay = %v, want the two newest events", replay)
	}
}

func TestHubDeliversLiveEvents(t *testing.T) {
	hub := NewEventHub(16)
	_, events, cancel := hub.Subscribe(0)

	hub.Publish(EventSessionState, "live")
	ev := <-events
	if ev.Kind != EventSessionState || ev.Payload != "live" {
		t.Fatalf("unexpected event %+v", ev)
	}

	cancel()
	if _, ok := <-events; ok {
		t.Fatal("channel should be closed after cancel")
	}
	// Cancel twice is safe.
	cancel()
}
