package pipe

import "syscall"

// Error taxonomy surfaced to callers, per the wire protocol's error model:
// invalid arguments, mode conflicts, non-blocking stalls, peer-closed pipes,
// races against forced teardown, and mid-frame transport failures.
var (
	ErrInvalid   = syscall.EINVAL
	ErrPerm      = syscall.EPERM
	ErrAgain     = syscall.EAGAIN
	ErrPipe      = syscall.EPIPE
	ErrNotExist  = syscall.ENOENT
	ErrConnReset = syscall.ECONNRESET
)
