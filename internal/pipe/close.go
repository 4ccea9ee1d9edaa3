package pipe

import (
	"container/list"

	"github.com/onkernel/netpipefs/internal/netlog"
	"github.com/onkernel/netpipefs/internal/protocol"
)

// Close drops one reader or writer reference, flushing any buffered bytes
// first if this was the last writer.
func (p *Pipe) Close(mode protocol.Mode) (int, error) {
	p.mtx.Lock()
	bumpCount(p, mode, -1)

	sentBytes := 0
	if mode == modeWrite && p.writers == 0 {
		p.mtx.Unlock()
		n, err := p.Flush(false)
		if err != nil {
			netlog.Error("pipe %s: flush on close: %v", p.path, err)
		}
		sentBytes = n
		p.mtx.Lock()
	}

	if p.readers == 0 && p.writers == 0 {
		p.openMode = modeNone
	}

	if err := p.sender.SendClose(p.path, mode); err != nil {
		netlog.Error("pipe %s: send CLOSE: %v", p.path, err)
	}

	bothZero := p.readers == 0 && p.writers == 0
	p.mtx.Unlock()

	if bothZero {
		p.reg.Remove(p.path)
	}

	return sentBytes, nil
}

// closeUpdate is called by the dispatcher when the peer's CLOSE frame
// arrives.
func (p *Pipe) closeUpdate(mode protocol.Mode) {
	p.mtx.Lock()
	bumpCount(p, mode, -1)

	if mode == modeWrite && p.writers == 0 {
		drainWithError(p.rdReq, ErrPipe)
		p.cvRd.Broadcast()
	}
	if mode == modeRead && p.readers == 0 {
		drainWithError(p.wrReq, ErrPipe)
		p.cvWr.Broadcast()
	}

	p.notifyPollHandlesLocked()

	bothZero := p.readers == 0 && p.writers == 0
	if bothZero {
		p.openMode = modeNone
	}
	p.mtx.Unlock()

	if bothZero {
		p.reg.Remove(p.path)
	}
}

// drainWithError sets err on every queued request and removes it from q.
func drainWithError(q *list.List, err error) {
	for el := q.Front(); el != nil; {
		next := el.Next()
		el.Value.(*request).err = err
		q.Remove(el)
		el = next
	}
}
