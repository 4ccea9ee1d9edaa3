package pipe

import "github.com/onkernel/netpipefs/internal/netlog"

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// requestOutcome resolves a woken request into an error, honoring the rule
// that only a zero-progress failure is reported as an error; any progress at
// all (whether made before the request was enqueued or while it waited) is
// returned as a partial byte count instead — a partial write returns the
// count actually accepted, and only a zero-progress failure returns an error.
func requestOutcome(req *request, forceExit bool) error {
	if req.bytesProcessed > 0 {
		return nil
	}
	if req.err != nil {
		return req.err
	}
	if forceExit {
		return ErrPipe
	}
	return nil
}

// Send accepts up to len(data) bytes for delivery, flushing straight to the
// wire where credit allows and writeahead-buffering the rest, blocking
// (unless nonblock) once both are exhausted.
func (p *Pipe) Send(data []byte, nonblock bool) (int, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.forceExit || p.readers == 0 {
		return 0, ErrPipe
	}

	// Step 1: flush whatever is already buffered, up to current credit.
	if p.buffer.Size() > 0 && p.remoteAvail() > 0 {
		n := minInt(p.buffer.Size(), p.remoteAvail())
		chunk := make([]byte, n)
		got := p.buffer.Peek(chunk)
		chunk = chunk[:got]
		if err := p.sender.SendFlush(p.path, chunk); err != nil {
			netlog.Error("pipe %s: send FLUSH: %v", p.path, err)
			return 0, ErrConnReset
		}
		p.buffer.Discard(got)
		p.remoteSize += got
		p.cvWr.Broadcast()
	}

	sent := 0
	remaining := data

	// Step 2: direct send, only once the buffer has fully drained.
	if p.buffer.Empty() && p.remoteAvail() > 0 && len(remaining) > 0 {
		n := minInt(len(remaining), p.remoteAvail())
		if err := p.sender.SendWrite(p.path, remaining[:n]); err != nil {
			netlog.Error("pipe %s: send WRITE: %v", p.path, err)
			return 0, ErrConnReset
		}
		p.remoteSize += n
		remaining = remaining[n:]
		sent += n
	}

	// Step 3: writeahead whatever is left into the local buffer.
	if len(remaining) > 0 {
		n := p.buffer.Put(remaining)
		remaining = remaining[n:]
		sent += n
	}

	if len(remaining) == 0 || nonblock {
		if sent == 0 && len(data) > 0 {
			return 0, ErrAgain
		}
		return sent, nil
	}

	req := &request{buf: remaining, size: len(remaining)}
	el := p.wrReq.PushBack(req)
	for !req.done() && req.err == nil && !p.forceExit {
		p.cvWr.Wait()
	}
	p.wrReq.Remove(el)

	if err := requestOutcome(req, p.forceExit); err != nil {
		if sent > 0 {
			return sent, nil
		}
		return 0, err
	}
	return sent + req.bytesProcessed, nil
}

// Flush sends everything currently buffered. Like Send, but the caller's
// "buffer" is the pipe's own ring buffer.
func (p *Pipe) Flush(nonblock bool) (int, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.forceExit || p.readers == 0 {
		return 0, ErrPipe
	}

	sent := 0
	if p.buffer.Size() > 0 && p.remoteAvail() > 0 {
		n := minInt(p.buffer.Size(), p.remoteAvail())
		chunk := make([]byte, n)
		got := p.buffer.Peek(chunk)
		chunk = chunk[:got]
		if err := p.sender.SendFlush(p.path, chunk); err != nil {
			netlog.Error("pipe %s: send FLUSH: %v", p.path, err)
			return 0, ErrConnReset
		}
		p.buffer.Discard(got)
		p.remoteSize += got
		sent = got
		p.cvWr.Broadcast()
	}

	if p.buffer.Empty() || nonblock {
		return sent, nil
	}

	// Stage the remainder into its own array and enqueue it as a write
	// request; the staging array is freed unconditionally on exit simply by
	// going out of scope once the request is unlinked below.
	staging := make([]byte, p.buffer.Size())
	got := p.buffer.Get(staging)
	staging = staging[:got]

	req := &request{buf: staging, size: len(staging)}
	el := p.wrReq.PushBack(req)
	for !req.done() && req.err == nil && !p.forceExit {
		p.cvWr.Wait()
	}
	p.wrReq.Remove(el)

	if err := requestOutcome(req, p.forceExit); err != nil {
		if sent > 0 {
			return sent, nil
		}
		return 0, err
	}
	return sent + req.bytesProcessed, nil
}

// sendDataLocked opportunistically drains whatever can now go out: flushed
// buffer bytes first (FIFO ordering relative to newer requests), then
// pending write requests directly onto the wire, then writeahead of
// whatever remains into the buffer. Called by readRequest/readUpdate after
// remote credit changes. Returns whether any bytes moved.
func (p *Pipe) sendDataLocked() bool {
	progress := false

	for p.buffer.Size() > 0 && p.remoteAvail() > 0 {
		n := minInt(p.buffer.Size(), p.remoteAvail())
		chunk := make([]byte, n)
		got := p.buffer.Peek(chunk)
		chunk = chunk[:got]
		if err := p.sender.SendFlush(p.path, chunk); err != nil {
			netlog.Error("pipe %s: send FLUSH: %v", p.path, err)
			break
		}
		p.buffer.Discard(got)
		p.remoteSize += got
		progress = true
	}

	for p.wrReq.Len() > 0 && p.remoteAvail() > 0 {
		el := p.wrReq.Front()
		req := el.Value.(*request)
		want := minInt(req.size-req.bytesProcessed, p.remoteAvail())
		chunk := req.buf[req.bytesProcessed : req.bytesProcessed+want]
		if err := p.sender.SendWrite(p.path, chunk); err != nil {
			netlog.Error("pipe %s: send WRITE: %v", p.path, err)
			req.err = ErrConnReset
			p.wrReq.Remove(el)
			p.cvWr.Broadcast()
			return progress
		}
		req.bytesProcessed += want
		p.remoteSize += want
		progress = true
		if req.done() {
			p.wrReq.Remove(el)
		}
	}

	for p.wrReq.Len() > 0 && !p.buffer.Full() {
		el := p.wrReq.Front()
		req := el.Value.(*request)
		n := p.buffer.Put(req.remaining())
		if n == 0 {
			break
		}
		req.bytesProcessed += n
		progress = true
		if req.done() {
			p.wrReq.Remove(el)
		}
	}

	if progress {
		p.notifyPollHandlesLocked()
	}
	return progress
}

// readRequest records that the peer advertised willingness to accept size
// more bytes.
func (p *Pipe) readRequest(size uint32) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.remoteMax += int(size)
	if p.sendDataLocked() {
		p.cvWr.Broadcast()
	}
}

// readUpdate records that the peer drained size bytes from its receive
// buffer, returning credit. remote_max is the peer's fixed advertised
// capacity (plus whatever extra a readRequest grant has added on top); it
// does not shrink here. Only remote_size — the count of bytes we've sent
// that the peer hasn't yet drained — falls, which is what actually raises
// remote_avail and lets a blocked writer resume.
func (p *Pipe) readUpdate(size uint32) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.remoteSize -= int(size)
	p.sendDataLocked()
	p.cvWr.Broadcast()
}
