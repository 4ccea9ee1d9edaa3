package pipe

import (
	"io"

	"github.com/onkernel/netpipefs/internal/protocol"
	"github.com/onkernel/netpipefs/internal/registry"
)

// Engine is the entry point both the FUSE adapter (local calls) and the
// dispatcher (peer-driven updates) use. It owns the registry lookup/create
// step that the bare Pipe operations assume has already happened.
type Engine struct {
	reg            *registry.Registry
	sender         Sender
	notifier       Notifier
	localCapacity  int
	remoteCapacity int
}

// NewEngine creates an engine backed by reg, emitting frames via sender and
// notifying poll waiters via notifier. localCapacity bounds every pipe's
// ring buffer (the configured local pipe capacity); remoteCapacity is the
// peer's advertised buffer size from the handshake, seeding remote_max on
// every pipe subsequently opened.
func NewEngine(reg *registry.Registry, sender Sender, notifier Notifier, localCapacity, remoteCapacity int) *Engine {
	return &Engine{reg: reg, sender: sender, notifier: notifier, localCapacity: localCapacity, remoteCapacity: remoteCapacity}
}

func (e *Engine) lookup(path string) (*Pipe, bool) {
	p, ok := e.reg.Get(path)
	if !ok {
		return nil, false
	}
	return p.(*Pipe), true
}

func (e *Engine) getOrCreate(path string) (*Pipe, bool) {
	var created bool
	p, _ := e.reg.GetOrCreate(path, func() registry.Pipe {
		created = true
		return New(path, e.localCapacity, e.remoteCapacity, e.sender, e.notifier, e.reg)
	})
	return p.(*Pipe), created
}

// Open implements open(path, mode, nonblock).
func (e *Engine) Open(path string, mode protocol.Mode, nonblock bool) (*Pipe, error) {
	if mode != protocol.ModeRead && mode != protocol.ModeWrite {
		return nil, ErrInvalid
	}
	pp, created := e.getOrCreate(path)
	return pp.open(mode, nonblock, created, func() { e.reg.Remove(path) })
}

// OpenUpdate implements open_update(path, mode), driven by the
// dispatcher on the peer's OPEN frame.
func (e *Engine) OpenUpdate(path string, mode protocol.Mode) {
	pp, _ := e.getOrCreate(path)
	pp.openUpdate(mode)
}

// Close implements close(mode).
func (e *Engine) Close(path string, mode protocol.Mode) (int, error) {
	pp, ok := e.lookup(path)
	if !ok {
		return 0, ErrNotExist
	}
	return pp.Close(mode)
}

// CloseUpdate applies a peer CLOSE frame. A lookup miss is a no-op: the
// path is not open locally.
func (e *Engine) CloseUpdate(path string, mode protocol.Mode) {
	pp, ok := e.lookup(path)
	if !ok {
		return
	}
	pp.closeUpdate(mode)
}

// Send implements send(buf, size, nonblock).
func (e *Engine) Send(path string, data []byte, nonblock bool) (int, error) {
	pp, ok := e.lookup(path)
	if !ok {
		return 0, ErrPipe
	}
	return pp.Send(data, nonblock)
}

// Read implements read(buf, size, nonblock).
func (e *Engine) Read(path string, dst []byte, nonblock bool) (int, error) {
	pp, ok := e.lookup(path)
	if !ok {
		return 0, ErrPipe
	}
	return pp.Read(dst, nonblock)
}

// Flush implements flush(nonblock).
func (e *Engine) Flush(path string, nonblock bool) (int, error) {
	pp, ok := e.lookup(path)
	if !ok {
		return 0, ErrPipe
	}
	return pp.Flush(nonblock)
}

// Poll implements poll(handle, &revents).
func (e *Engine) Poll(path string, handle PollHandle) (PollEvents, error) {
	pp, ok := e.lookup(path)
	if !ok {
		return 0, ErrNotExist
	}
	return pp.Poll(handle), nil
}

// Recv implements recv(size), called by the dispatcher on a
// WRITE/FLUSH frame. body is bounded to exactly size bytes by the caller
// (the frame's io.LimitReader).
func (e *Engine) Recv(path string, body io.Reader, size int) error {
	pp, ok := e.lookup(path)
	if !ok {
		_, err := io.CopyN(io.Discard, body, int64(size))
		return err
	}
	return pp.recv(body, size)
}

// ReadRequest implements read_request(size).
func (e *Engine) ReadRequest(path string, size uint32) {
	if pp, ok := e.lookup(path); ok {
		pp.readRequest(size)
	}
}

// ReadUpdate implements read_update(size).
func (e *Engine) ReadUpdate(path string, size uint32) {
	if pp, ok := e.lookup(path); ok {
		pp.readUpdate(size)
	}
}

// ForceExitAll sets force_exit on every pipe currently registered: a short
// read or EOF on the transport's receive side triggers force_exit on every
// pipe in the registry.
func (e *Engine) ForceExitAll() {
	e.reg.ForceExitAll(func(rp registry.Pipe) {
		rp.(*Pipe).ForceExit()
	})
}

// Paths lists every path currently open on this peer, used by the health
// surface and the FUSE adapter's readdir.
func (e *Engine) Paths() []string {
	return e.reg.Paths()
}
