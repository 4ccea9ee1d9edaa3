package pipe

import "github.com/google/uuid"

// PollHandle is an opaque token registered by a Poll call. The engine
// notifies and forgets it exactly once; reusing a handle requires
// re-registration via Poll.
type PollHandle string

// NewPollHandle mints a fresh opaque token for a caller about to register
// interest via Poll. Callers that already have a kernel-supplied handle
// (e.g. a future FUSE poll upcall) have no need for this and can construct
// a PollHandle directly from whatever identity the kernel gave them.
func NewPollHandle() PollHandle {
	return PollHandle(uuid.NewString())
}

// PollEvents mirrors the POSIX poll() readiness bits this engine cares
// about.
type PollEvents uint32

const (
	PollIn PollEvents = 1 << iota
	PollOut
	PollErr
	PollHup
)

// Notifier is told about a single handle whose readiness may have changed.
// Implementations typically wake a blocked FUSE poll upcall.
type Notifier interface {
	Notify(handle PollHandle)
}

// NopNotifier discards every notification. Used where no poll upcall is
// wired, e.g. in tests or a mount surface that does not implement
// NodePoller.
type NopNotifier struct{}

func (NopNotifier) Notify(PollHandle) {}

// Poll links handle into the pipe's notification set and returns the
// immediately-known readiness bits.
func (p *Pipe) Poll(handle PollHandle) PollEvents {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.pollHandles[handle] = struct{}{}

	var ev PollEvents
	switch p.openMode {
	case modeRead:
		if !p.buffer.Empty() || p.writers > 0 {
			ev |= PollIn
		} else if p.writers == 0 {
			ev |= PollHup
		}
	case modeWrite:
		if p.readers == 0 {
			ev |= PollErr
		} else if p.remoteAvail()+p.buffer.Free() > 0 {
			ev |= PollOut
		}
	}
	return ev
}

// notifyPollHandlesLocked fires every registered handle once and forgets
// them. Callers must hold p.mtx.
func (p *Pipe) notifyPollHandlesLocked() {
	if len(p.pollHandles) == 0 {
		return
	}
	for h := range p.pollHandles {
		p.notifier.Notify(h)
	}
	p.pollHandles = make(map[PollHandle]struct{})
}
