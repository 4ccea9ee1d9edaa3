// Package dispatcher owns the transport's two directions: a Sender that
// serializes outgoing pipe.Engine frames onto the shared connection, and a
// Dispatcher goroutine that owns the receive side exclusively and drives the
// engine from incoming frames — a single-reader/single-writer design.
package dispatcher

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/onkernel/netpipefs/internal/netlog"
	"github.com/onkernel/netpipefs/internal/pipe"
	"github.com/onkernel/netpipefs/internal/protocol"
)

// Sender serializes pipe.Engine frames onto enc, guarding every Encode call
// with a mutex so frames from concurrently-active pipes never interleave on
// the wire.
type Sender struct {
	mu  sync.Mutex
	enc *protocol.Encoder
}

// NewSender creates a Sender writing frames via enc.
func NewSender(enc *protocol.Encoder) *Sender {
	return &Sender{enc: enc}
}

func (s *Sender) SendOpen(path string, mode protocol.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.EncodeOpen(protocol.OpenMsg{Path: path, Mode: mode})
}

func (s *Sender) SendClose(path string, mode protocol.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.EncodeClose(protocol.CloseMsg{Path: path, Mode: mode})
}

func (s *Sender) SendWrite(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.EncodeData(protocol.KindWrite, protocol.DataMsg{Path: path, Data: data})
}

func (s *Sender) SendFlush(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.EncodeData(protocol.KindFlush, protocol.DataMsg{Path: path, Data: data})
}

func (s *Sender) SendRead(path string, n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.EncodeCredit(protocol.KindRead, protocol.CreditMsg{Path: path, Len: n})
}

func (s *Sender) SendReadRequest(path string, n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.EncodeCredit(protocol.KindReadRequest, protocol.CreditMsg{Path: path, Len: n})
}

var _ pipe.Sender = (*Sender)(nil)

// Dispatcher owns the receive side of one connection and drives engine from
// incoming frames. There is exactly one Dispatcher per connection, and it is
// the only goroutine that ever calls dec.DecodeHeader.
type Dispatcher struct {
	dec    *protocol.Decoder
	engine *pipe.Engine
}

// New creates a Dispatcher reading frames via dec and applying them to engine.
func New(dec *protocol.Decoder, engine *pipe.Engine) *Dispatcher {
	return &Dispatcher{dec: dec, engine: engine}
}

// Run decodes frames until the connection closes or a malformed frame is
// encountered, dispatching each to the matching engine method. On any
// terminal error (including a clean EOF), it calls engine.ForceExitAll
// before returning: a broken link force-exits every pipe so no caller is
// left blocked forever.
func (d *Dispatcher) Run() error {
	err := d.loop()
	d.engine.ForceExitAll()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (d *Dispatcher) loop() error {
	for {
		kind, body, err := d.dec.DecodeHeader()
		if err != nil {
			return err
		}

		switch kind {
		case protocol.KindOpen:
			m, err := protocol.DecodeOpen(body)
			if err != nil {
				return fmt.Errorf("dispatcher: decode OPEN: %w", err)
			}
			d.engine.OpenUpdate(m.Path, m.Mode)

		case protocol.KindClose:
			m, err := protocol.DecodeClose(body)
			if err != nil {
				return fmt.Errorf("dispatcher: decode CLOSE: %w", err)
			}
			d.engine.CloseUpdate(m.Path, m.Mode)

		case protocol.KindWrite, protocol.KindFlush:
			path, n, err := protocol.DecodeDataHeader(body)
			if err != nil {
				return fmt.Errorf("dispatcher: decode %s header: %w", kind, err)
			}
			if err := d.engine.Recv(path, body, int(n)); err != nil {
				return fmt.Errorf("dispatcher: recv %s: %w", kind, err)
			}

		case protocol.KindRead:
			m, err := protocol.DecodeCredit(body)
			if err != nil {
				return fmt.Errorf("dispatcher: decode READ: %w", err)
			}
			d.engine.ReadUpdate(m.Path, m.Len)

		case protocol.KindReadRequest:
			m, err := protocol.DecodeCredit(body)
			if err != nil {
				return fmt.Errorf("dispatcher: decode READ-REQUEST: %w", err)
			}
			d.engine.ReadRequest(m.Path, m.Len)

		default:
			netlog.Error("dispatcher: unknown frame kind %d, dropping connection", kind)
			return fmt.Errorf("dispatcher: unknown frame kind %d", kind)
		}
	}
}
