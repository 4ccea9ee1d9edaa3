package pipe

import (
	"bytes"

	"github.com/onkernel/netpipefs/internal/protocol"
	"github.com/onkernel/netpipefs/internal/registry"
)

// frame is an in-memory stand-in for one wire frame, used to bridge two
// engines in a test without a real transport. A dedicated goroutine per
// peer drains frames and calls the dispatcher-facing Engine methods,
// mirroring how a real dispatcher owns the receive side independently of
// any user goroutine — this decoupling matters: if the bridge instead
// called the peer synchronously from within Send, a loopback-holding-its-own-
// pipe-mutex case could deadlock.
type frame struct {
	kind protocol.Kind
	path string
	mode protocol.Mode
	data []byte
	n    uint32
}

type bridgeSender struct {
	out chan frame
}

func newBridgeSender() *bridgeSender {
	return &bridgeSender{out: make(chan frame, 256)}
}

func (b *bridgeSender) SendOpen(path string, mode protocol.Mode) error {
	b.out <- frame{kind: protocol.KindOpen, path: path, mode: mode}
	return nil
}
func (b *bridgeSender) SendClose(path string, mode protocol.Mode) error {
	b.out <- frame{kind: protocol.KindClose, path: path, mode: mode}
	return nil
}
func (b *bridgeSender) SendWrite(path string, data []byte) error {
	cp := append([]byte(nil), data...)
	b.out <- frame{kind: protocol.KindWrite, path: path, data: cp}
	return nil
}
func (b *bridgeSender) SendFlush(path string, data []byte) error {
	cp := append([]byte(nil), data...)
	b.out <- frame{kind: protocol.KindFlush, path: path, data: cp}
	return nil
}
func (b *bridgeSender) SendRead(path string, n uint32) error {
	b.out <- frame{kind: protocol.KindRead, path: path, n: n}
	return nil
}
func (b *bridgeSender) SendReadRequest(path string, n uint32) error {
	b.out <- frame{kind: protocol.KindReadRequest, path: path, n: n}
	return nil
}

// testPeer is one side of a two-peer harness.
type testPeer struct {
	engine *Engine
	sender *bridgeSender
}

func newTestPeer(localCapacity, remoteCapacity int) *testPeer {
	sender := newBridgeSender()
	reg := registry.New()
	engine := NewEngine(reg, sender, NopNotifier{}, localCapacity, remoteCapacity)
	return &testPeer{engine: engine, sender: sender}
}

// runDispatcher drains a's outgoing frames into b's engine, as a real
// dispatcher goroutine would. Stops when a's sender channel is closed.
func runDispatcher(a *testPeer, b *Engine) {
	for f := range a.sender.out {
		switch f.kind {
		case protocol.KindOpen:
			b.OpenUpdate(f.path, f.mode)
		case protocol.KindClose:
			b.CloseUpdate(f.path, f.mode)
		case protocol.KindWrite, protocol.KindFlush:
			_ = b.Recv(f.path, bytes.NewReader(f.data), len(f.data))
		case protocol.KindRead:
			b.ReadUpdate(f.path, f.n)
		case protocol.KindReadRequest:
			b.ReadRequest(f.path, f.n)
		}
	}
}

// newLinkedPeers wires two peers' dispatcher goroutines to each other and
// returns both along with a stop function that closes the bridges. Each
// peer's remote capacity is the other's local capacity, mirroring the real
// handshake exchange (a's remote_max seed is b's advertised buffer size).
func newLinkedPeers(capacityA, capacityB int) (a, b *testPeer, stop func()) {
	a = newTestPeer(capacityA, capacityB)
	b = newTestPeer(capacityB, capacityA)
	go runDispatcher(a, b.engine)
	go runDispatcher(b, a.engine)
	return a, b, func() {
		close(a.sender.out)
		close(b.sender.out)
	}
}
