// Package pipe implements the per-path pipe engine: buffering, remote
// flow-control credit, suspended-request queues for readers/writers/flushers,
// poll-handle notification, and the wire-facing operations a dispatcher
// drives on received frames.
//
// All public operations acquire the pipe's mutex on entry and release it on
// every exit path. Suspension happens only inside Open, Send, Read, and
// Flush (via Close), on the pipe's three condition variables, while the
// mutex is released by the wait.
package pipe

import (
	"container/list"
	"sync"

	"github.com/onkernel/netpipefs/internal/netlog"
	"github.com/onkernel/netpipefs/internal/protocol"
	"github.com/onkernel/netpipefs/internal/registry"
	"github.com/onkernel/netpipefs/internal/ringbuffer"
)

const modeNone protocol.Mode = 0
const modeRead = protocol.ModeRead
const modeWrite = protocol.ModeWrite

// Sender is the transport-facing surface a pipe uses to emit frames. A
// single implementation backs every pipe sharing a transport; it owns the
// writer lock internally so frames from different pipes never interleave.
type Sender interface {
	SendOpen(path string, mode protocol.Mode) error
	SendClose(path string, mode protocol.Mode) error
	SendWrite(path string, data []byte) error
	SendFlush(path string, data []byte) error
	SendRead(path string, n uint32) error
	SendReadRequest(path string, n uint32) error
}

// Pipe is one per path currently open on this peer.
type Pipe struct {
	path     string
	sender   Sender
	notifier Notifier
	reg      *registry.Registry

	buffer *ringbuffer.Buffer

	mtx       sync.Mutex
	cvCanOpen *sync.Cond
	cvRd      *sync.Cond
	cvWr      *sync.Cond

	remoteMax  int
	remoteSize int

	readers  int
	writers  int
	openMode protocol.Mode

	forceExit bool

	rdReq *list.List
	wrReq *list.List

	pollHandles map[PollHandle]struct{}
}

// New creates a pipe with the given local buffer capacity. remoteCapacity
// seeds remote_max at the peer's advertised buffer size, negotiated once at
// handshake time, so a writer has the full credit window available against
// an idle peer rather than starting at zero. sender emits wire frames;
// notifier is told about poll-handle readiness changes; reg is the registry
// this pipe was inserted into, used to remove itself once both readers and
// writers reach zero.
func New(path string, localCapacity, remoteCapacity int, sender Sender, notifier Notifier, reg *registry.Registry) *Pipe {
	p := &Pipe{
		path:        path,
		sender:      sender,
		notifier:    notifier,
		reg:         reg,
		buffer:      ringbuffer.New(localCapacity),
		remoteMax:   remoteCapacity,
		rdReq:       list.New(),
		wrReq:       list.New(),
		pollHandles: make(map[PollHandle]struct{}),
	}
	p.cvCanOpen = sync.NewCond(&p.mtx)
	p.cvRd = sync.NewCond(&p.mtx)
	p.cvWr = sync.NewCond(&p.mtx)
	return p
}

// Path satisfies registry.Pipe.
func (p *Pipe) Path() string { return p.path }

func (p *Pipe) remoteAvail() int { return p.remoteMax - p.remoteSize }

func bumpCount(p *Pipe, mode protocol.Mode, delta int) {
	if mode == modeRead {
		p.readers += delta
	} else {
		p.writers += delta
	}
}

func countFor(p *Pipe, mode protocol.Mode) int {
	if mode == modeRead {
		return p.readers
	}
	return p.writers
}

func otherSidePresent(p *Pipe, mode protocol.Mode) bool {
	if mode == modeRead {
		return p.writers > 0
	}
	return p.readers > 0
}

// open registers one more reader or writer on pp and blocks (unless
// nonblock) until the other side is present.
//
// Callers reach this through Engine.Open, which resolves the registry
// lookup/creation; Open itself assumes pp is already registered (or about
// to be, tracked via created) and undoes that registration on every failure
// path so a failed open never leaves an orphaned empty pipe behind.
func (pp *Pipe) open(mode protocol.Mode, nonblock bool, created bool, remove func()) (*Pipe, error) {
	pp.mtx.Lock()

	fail := func(err error) (*Pipe, error) {
		pp.mtx.Unlock()
		if created {
			remove()
		}
		return nil, err
	}

	if pp.forceExit {
		return fail(ErrNotExist)
	}
	if pp.openMode != modeNone && pp.openMode != mode {
		return fail(ErrPerm)
	}

	bumpCount(pp, mode, 1)
	pp.openMode = mode

	undoBump := func() {
		bumpCount(pp, mode, -1)
		if countFor(pp, mode) == 0 {
			pp.openMode = modeNone
		}
	}

	if err := pp.sender.SendOpen(pp.path, mode); err != nil {
		undoBump()
		netlog.Error("pipe %s: send OPEN: %v", pp.path, err)
		return fail(err)
	}

	pp.cvCanOpen.Broadcast()

	if nonblock && !otherSidePresent(pp, mode) {
		undoBump()
		return fail(ErrAgain)
	}

	for !otherSidePresent(pp, mode) && !pp.forceExit {
		pp.cvCanOpen.Wait()
	}

	if pp.forceExit {
		undoBump()
		return fail(ErrNotExist)
	}

	pp.mtx.Unlock()
	return pp, nil
}

// openUpdate is called by the dispatcher when the peer's OPEN frame
// arrives. Analogous to open but without emitting a frame, without
// blocking, and without force_exit handling.
func (pp *Pipe) openUpdate(mode protocol.Mode) {
	pp.mtx.Lock()
	bumpCount(pp, mode, 1)
	pp.cvCanOpen.Broadcast()
	pp.mtx.Unlock()
}

func (pp *Pipe) forceExitLocked() {
	pp.forceExit = true
	pp.cvCanOpen.Broadcast()
	pp.cvRd.Broadcast()
	pp.cvWr.Broadcast()
	pp.notifyPollHandlesLocked()
}

// ForceExit sets the sticky shutdown flag and wakes every waiter. Idempotent.
func (pp *Pipe) ForceExit() {
	pp.mtx.Lock()
	defer pp.mtx.Unlock()
	pp.forceExitLocked()
}
