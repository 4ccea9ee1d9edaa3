package pipe

// request is an in-flight local read or write. It lives on the calling
// goroutine's stack (as a local passed by pointer) and is linked into the
// pipe's rdReq/wrReq queue only while that goroutine is suspended; the queue
// holds a *list.Element wrapping this value, not a copy. The dispatcher
// mutates bytesProcessed/err under the pipe mutex; the waiting goroutine
// unlinks its own element before returning, which is also why
// (*list.List).Remove is safe to call twice — removing an element the
// dispatcher already dequeued is a no-op.
type request struct {
	buf            []byte
	size           int
	bytesProcessed int
	err            error
}

func (r *request) remaining() []byte {
	return r.buf[r.bytesProcessed:r.size]
}

func (r *request) done() bool {
	return r.bytesProcessed == r.size
}
