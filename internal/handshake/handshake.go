// Package handshake performs the listen/connect rendezvous and pipe
// capacity exchange needed before the core engine can run: one peer
// accepts, the other dials, and both learn the other side's pipe
// capacity. This sits outside the core engine itself, and there is no
// reconnection loop — a severed connection after the handshake is handled
// by the dispatcher's force_exit path, not by retrying here.
package handshake

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/onkernel/netpipefs/internal/netlog"
	"github.com/onkernel/netpipefs/internal/transport"
)

// Result carries the negotiated connection plus both sides' advertised
// capacities.
type Result struct {
	Conn           transport.Conn
	LocalCapacity  int
	RemoteCapacity int

	// SessionID tags this handshake for log correlation. It never crosses
	// the wire — each side mints its own, so a given connection has a
	// different SessionID on each end.
	SessionID string
}

// Listen accepts the inbound connection, over TCP or WebSocket depending on
// wsHandler, then exchanges pipe capacities.
func Listen(ctx context.Context, addr string, localCapacity int, timeout time.Duration, wsHandler *transport.WSHandler) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var conn transport.Conn
	var err error
	if wsHandler != nil {
		conn, err = wsHandler.Accept(ctx)
	} else {
		conn, err = transport.ListenTCP(ctx, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("handshake: accept: %w", err)
	}
	return exchange(conn, localCapacity)
}

// Connect dials out, over TCP or WebSocket depending on useWS, then
// exchanges pipe capacities.
func Connect(ctx context.Context, addr string, localCapacity int, timeout time.Duration, useWS bool) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var conn transport.Conn
	var err error
	if useWS {
		conn, err = transport.DialWS(ctx, addr)
	} else {
		conn, err = transport.DialTCP(ctx, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("handshake: dial: %w", err)
	}
	return exchange(conn, localCapacity)
}

// exchange trades a single 4-byte big-endian capacity value in each
// direction, concurrently so neither side can deadlock waiting for the
// other to read first.
func exchange(conn transport.Conn, localCapacity int) (*Result, error) {
	sessionID := cuid2.Generate()
	errCh := make(chan error, 2)
	var remoteCapacity uint32

	go func() {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(localCapacity))
		_, err := conn.Write(buf[:])
		errCh <- err
	}()
	go func() {
		var buf [4]byte
		_, err := io.ReadFull(conn, buf[:])
		if err == nil {
			remoteCapacity = binary.BigEndian.Uint32(buf[:])
		}
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			conn.Close()
			return nil, fmt.Errorf("handshake[%s]: capacity exchange: %w", sessionID, err)
		}
	}

	netlog.Info("handshake %s complete: local capacity %d bytes, remote capacity %d bytes", sessionID, localCapacity, remoteCapacity)
	return &Result{Conn: conn, LocalCapacity: localCapacity, RemoteCapacity: int(remoteCapacity), SessionID: sessionID}, nil
}
