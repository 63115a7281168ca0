// Package transport is the thin seam between the protocol core and NATS.
// The core only ever sees the Conn interface; the session owns the one
// live connection and everything else publishes through it.
package transport

import (
	"context"
	"errors"
)

var (
	ErrConnectFailure = errors.New("transport: connect failed")
	ErrRequestTimeout = errors.New("transport: request timed out")
	ErrClosed         = errors.New("transport: connection is closed")
)

// Handler receives one message on a subscribed subject.
type Handler func(subject string, data []byte)

// Conn is a live pub/sub connection. Close tears down all subscriptions
// with the connection; no handler fires after it returns.
type Conn interface {
	Subscribe(subject string, handler Handler) error
	Publish(subject string, data []byte) error
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	Close()
}

// DialConfig carries everything needed to establish one authenticated
// connection.
type DialConfig struct {
	URL  string
	Name string

	// UserJWT and Seed come from a parsed credential document.
	UserJWT string
	Seed    string

	// OnServerClose fires when the server closes the connection
	// out-of-band. A client-initiated Close never triggers it; an
	// unexpected closure is the revocation signal.
	OnServerClose func(err error)
}

// Dialer abstracts connection establishment so the handshake and session
// can be tested against an in-memory transport.
type Dialer func(cfg DialConfig) (Conn, error)
