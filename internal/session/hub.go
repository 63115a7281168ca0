package session

import (
	"sync"
	"time"
)

// Event kinds delivered to the presentation layer.
const (
	EventSessionState   = "session.state"
	EventPresenceUpdate = "presence.update"
	EventLogUpdate      = "log.update"
)

// Event is one notification to the presentation layer.
type Event struct {
	Seq       int64
	Kind      string
	Payload   any
	Timestamp time.Time
}

// EventHub fans session events out to presentation-layer subscribers with
// a bounded replay history. A subscriber that stops draining its channel
// is dropped rather than blocking the core.
type EventHub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []Event
	subs    map[int]chan Event
	nextSub int
}

func NewEventHub(limit int) *EventHub {
	if limit < 1 {
		limit = 1
	}
	return &EventHub{
		limit: limit,
		subs:  make(map[int]chan Event),
	}
}

func (h *EventHub) Publish(kind string, payload any) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event := Event{
		Seq:       h.nextSeq,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = append([]Event(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return event
}

// Subscribe returns events after fromSeq plus a live channel and a cancel
// function.
func (h *EventHub) Subscribe(fromSeq int64) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]Event, 0)
	for _, event := range h.history {
		if event.Seq > fromSeq {
			replay = append(replay, event)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}
