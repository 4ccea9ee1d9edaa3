package pipe

import (
	"fmt"
	"io"

	"github.com/onkernel/netpipefs/internal/netlog"
)

// Read copies up to len(dst) bytes into dst, blocking (unless nonblock) for
// a writer to supply them.
func (p *Pipe) Read(dst []byte, nonblock bool) (int, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.forceExit {
		return 0, ErrPipe
	}

	read := 0
	if len(dst) > 0 {
		n := p.buffer.Get(dst)
		if n > 0 {
			read = n
			if err := p.sender.SendRead(p.path, uint32(n)); err != nil {
				netlog.Error("pipe %s: send READ credit: %v", p.path, err)
			}
		}
	}

	if read == len(dst) || nonblock {
		if read == 0 && len(dst) > 0 {
			return 0, ErrAgain
		}
		return read, nil
	}

	if p.writers == 0 {
		return read, nil
	}

	remaining := dst[read:]
	req := &request{buf: remaining, size: len(remaining)}
	el := p.rdReq.PushBack(req)

	if err := p.sender.SendReadRequest(p.path, uint32(len(remaining))); err != nil {
		netlog.Error("pipe %s: send READ-REQUEST credit: %v", p.path, err)
	}

	for !req.done() && req.err == nil && !p.forceExit {
		p.cvRd.Wait()
	}
	p.rdReq.Remove(el)

	if req.bytesProcessed == 0 {
		if req.err != nil {
			if req.err == ErrPipe {
				return read, nil
			}
			if read > 0 {
				return read, nil
			}
			return 0, req.err
		}
		if p.forceExit {
			if read > 0 {
				return read, nil
			}
			return 0, ErrPipe
		}
	}
	return read + req.bytesProcessed, nil
}

// recv delivers size bytes that have arrived on the transport from a WRITE
// or FLUSH frame; body is positioned at the start of those bytes, bounded
// to exactly size by the caller. Delivery happens under the pipe lock
// without blocking the dispatcher on user threads.
func (p *Pipe) recv(body io.Reader, size int) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	remaining := size
	wakeup := false

	// Step 1: drain pending readers from our buffer first, preserving FIFO
	// between already-buffered bytes and newly arriving ones.
	for p.rdReq.Len() > 0 && !p.buffer.Empty() {
		el := p.rdReq.Front()
		req := el.Value.(*request)
		n := p.buffer.Get(req.remaining())
		if n == 0 {
			break
		}
		req.bytesProcessed += n
		if err := p.sender.SendRead(p.path, uint32(n)); err != nil {
			netlog.Error("pipe %s: send READ credit: %v", p.path, err)
		}
		if req.done() {
			p.rdReq.Remove(el)
			wakeup = true
		}
	}

	// Step 2: once our buffer is empty, read directly from the transport
	// into waiting readers.
	for p.rdReq.Len() > 0 && p.buffer.Empty() && remaining > 0 {
		el := p.rdReq.Front()
		req := el.Value.(*request)
		want := minInt(req.size-req.bytesProcessed, remaining)
		n, err := io.ReadFull(body, req.buf[req.bytesProcessed:req.bytesProcessed+want])
		req.bytesProcessed += n
		remaining -= n
		if n > 0 {
			if sendErr := p.sender.SendRead(p.path, uint32(n)); sendErr != nil {
				netlog.Error("pipe %s: send READ credit: %v", p.path, sendErr)
			}
		}
		if req.done() {
			p.rdReq.Remove(el)
			wakeup = true
		}
		if err != nil {
			if wakeup {
				p.cvRd.Broadcast()
			}
			p.notifyPollHandlesLocked()
			return fmt.Errorf("pipe %s: recv into waiting reader: %w", p.path, err)
		}
	}

	// Step 3: readahead whatever is left straight into the buffer.
	if remaining > 0 {
		n, err := p.buffer.DrainFromReader(body, remaining)
		remaining -= n
		if err != nil {
			if wakeup {
				p.cvRd.Broadcast()
			}
			p.notifyPollHandlesLocked()
			return fmt.Errorf("pipe %s: recv into buffer: %w", p.path, err)
		}
	}

	if wakeup {
		p.cvRd.Broadcast()
	}
	p.notifyPollHandlesLocked()

	if remaining > 0 {
		// The peer sent more than our advertised credit allows us to hold:
		// a protocol violation rather than an ordinary transient condition,
		// so the frame fails and the pipe force-exits rather than silently
		// dropping bytes.
		netlog.Error("pipe %s: receive overrun: %d bytes past advertised credit", p.path, remaining)
		p.forceExitLocked()
		return fmt.Errorf("pipe %s: receive overrun past advertised credit", p.path)
	}
	return nil
}
