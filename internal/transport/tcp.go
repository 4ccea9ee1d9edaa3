package transport

import (
	"context"
	"net"
	"time"

	"github.com/avast/retry-go/v5"
)

// DialTCP connects to addr, retrying with exponential backoff until ctx is
// canceled (the caller bounds this with the configured handshake timeout).
func DialTCP(ctx context.Context, addr string) (Conn, error) {
	var conn net.Conn
	err := retry.Do(
		func() error {
			c, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ListenTCP accepts exactly one inbound connection on addr and returns it.
// There is no reconnection loop once a session's connection drops — the
// handshake only chooses which peer owns the accept side, once, at
// startup.
func ListenTCP(ctx context.Context, addr string) (Conn, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	type result struct {
		conn net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{conn: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	}
}
