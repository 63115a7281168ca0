package transport

import (
	"context"
	"sync"
)

// PublishedMessage records one Publish call on a Fake.
type PublishedMessage struct {
	Subject string
	Data    []byte
}

// Fake is an in-memory Conn for tests. Publishing loops messages back to
// local subscribers on the same subject, matching broker behavior for a
// client subscribed to its own subjects.
type Fake struct {
	mu            sync.Mutex
	subs          map[string][]Handler
	requests      map[string]func(data []byte) ([]byte, error)
	published     []PublishedMessage
	closed        bool
	onServerClose func(err error)

	// Loopback controls whether Publish delivers to local subscribers.
	Loopback bool
}

func NewFake() *Fake {
	return &Fake{
		subs:     make(map[string][]Handler),
		requests: make(map[string]func(data []byte) ([]byte, error)),
		Loopback: true,
	}
}

func (f *Fake) Subscribe(subject string, handler Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.subs[subject] = append(f.subs[subject], handler)
	return nil
}

func (f *Fake) Publish(subject string, data []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.published = append(f.published, PublishedMessage{Subject: subject, Data: data})
	loopback := f.Loopback
	handlers := append([]Handler(nil), f.subs[subject]...)
	f.mu.Unlock()

	if loopback {
		for _, h := range handlers {
			h(subject, data)
		}
	}
	return nil
}

func (f *Fake) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	f.mu.Lock()
	fn, ok := f.requests[subject]
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, ErrRequestTimeout
	}
	return fn(data)
}

func (f *Fake) Close() {
	f.mu.Lock()
	f.closed = true
	f.subs = make(map[string][]Handler)
	f.mu.Unlock()
}

// HandleRequest installs a responder for a request subject.
func (f *Fake) HandleRequest(subject string, fn func(data []byte) ([]byte, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[subject] = fn
}

// Deliver injects an incoming message as if the broker routed it here.
func (f *Fake) Deliver(subject string, data []byte) {
	f.mu.Lock()
	handlers := append([]Handler(nil), f.subs[subject]...)
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	for _, h := range handlers {
		h(subject, data)
	}
}

// SetOnServerClose mirrors DialConfig.OnServerClose for fakes built
// outside a dialer.
func (f *Fake) SetOnServerClose(fn func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onServerClose = fn
}

// CloseFromServer simulates the server killing the connection, the
// client-side revocation signal.
func (f *Fake) CloseFromServer(err error) {
	f.mu.Lock()
	fn := f.onServerClose
	f.closed = true
	f.subs = make(map[string][]Handler)
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Published returns all messages published on subject.
func (f *Fake) Published(subject string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.published {
		if m.Subject == subject {
			out = append(out, m.Data)
		}
	}
	return out
}

// PublishedCount returns the total number of Publish calls.
func (f *Fake) PublishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}
