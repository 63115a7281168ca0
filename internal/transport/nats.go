package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

type natsConn struct {
	nc          *nats.Conn
	clientClose atomic.Bool
}

// Dial connects to a NATS server with in-memory credentials. Reconnects
// are disabled on purpose: a dropped connection must surface as a closure,
// because an out-of-band closure is how the client learns its credential
// was revoked.
func Dial(cfg DialConfig) (Conn, error) {
	c := &natsConn{}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.NoReconnect(),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if c.clientClose.Load() || cfg.OnServerClose == nil {
				return
			}
			cfg.OnServerClose(nc.LastError())
		}),
	}
	if cfg.UserJWT != "" {
		opts = append(opts, nats.UserJWTAndSeed(cfg.UserJWT, cfg.Seed))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	c.nc = nc
	return c, nil
}

func (c *natsConn) Subscribe(subject string, handler Handler) error {
	_, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
	return err
}

func (c *natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *natsConn) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, subject)
		}
		return nil, err
	}
	return msg.Data, nil
}

func (c *natsConn) Close() {
	c.clientClose.Store(true)
	c.nc.Close()
}
