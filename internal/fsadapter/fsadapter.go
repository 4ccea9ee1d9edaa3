// Package fsadapter mounts the pipe engine as a FUSE filesystem, translating
// file operations into pipe.Engine calls. Built on github.com/hanwen/go-fuse/v2:
// a flat directory of pipeDir/pipeFile/pipeHandle nodes whose Open/Read/Write/
// Flush/Release calls drive the engine directly.
package fsadapter

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/onkernel/netpipefs/internal/netlog"
	"github.com/onkernel/netpipefs/internal/pipe"
	"github.com/onkernel/netpipefs/internal/protocol"
)

var attrTimeout = time.Second

// Mount mounts the pipe filesystem rooted at mountpoint, backed by engine.
func Mount(mountpoint string, engine *pipe.Engine) (*fuse.Server, error) {
	root := newPipeDir(engine)

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: true,
			FsName:     "netpipefs",
			Name:       "netpipefs",
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &attrTimeout,
	}

	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return nil, err
	}

	netlog.Info("mounted netpipefs at %s", mountpoint)
	return server, nil
}

func defaultAttr(mode uint32) fuse.Attr {
	now := time.Now()
	return fuse.Attr{
		Mode:  mode,
		Nlink: 1,
		Owner: fuse.Owner{
			Uid: uint32(syscall.Getuid()),
			Gid: uint32(syscall.Getgid()),
		},
		Atime: uint64(now.Unix()),
		Mtime: uint64(now.Unix()),
		Ctime: uint64(now.Unix()),
	}
}

// pipeDir is the single flat directory every pipe path lives under. It is
// read-only: paths come and go as the engine's registry changes, so Readdir
// and Lookup query it directly rather than a locally cached children map.
type pipeDir struct {
	fs.Inode
	engine *pipe.Engine
}

var _ fs.InodeEmbedder = (*pipeDir)(nil)
var _ fs.NodeGetattrer = (*pipeDir)(nil)
var _ fs.NodeLookuper = (*pipeDir)(nil)
var _ fs.NodeReaddirer = (*pipeDir)(nil)
var _ fs.NodeStatfser = (*pipeDir)(nil)

func newPipeDir(engine *pipe.Engine) *pipeDir {
	return &pipeDir{engine: engine}
}

func (d *pipeDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Attr = defaultAttr(fuse.S_IFDIR | 0755)
	return 0
}

func (d *pipeDir) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	const blockSize = 4096
	out.Blocks = 1 << 20
	out.Bfree = 1 << 19
	out.Bavail = 1 << 19
	out.Files = 1 << 20
	out.Ffree = 1 << 19
	out.Bsize = blockSize
	out.NameLen = 255
	out.Frsize = blockSize
	return 0
}

func (d *pipeDir) exists(name string) bool {
	path := "/" + name
	for _, p := range d.engine.Paths() {
		if p == path {
			return true
		}
	}
	return false
}

func (d *pipeDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if !d.exists(name) {
		return nil, syscall.ENOENT
	}
	out.Attr = defaultAttr(fuse.S_IFREG | 0444)
	file := newPipeFile(d.engine, "/"+name)
	return d.NewInode(ctx, file, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

func (d *pipeDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	paths := d.engine.Paths()
	entries := make([]fuse.DirEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, fuse.DirEntry{Name: p[1:], Mode: fuse.S_IFREG})
	}
	return fs.NewListDirStream(entries), 0
}

// pipeFile represents one named pipe. A node is constructed fresh on every
// Lookup; it carries no state of its own beyond the path, since all pipe
// state lives in the engine's registry.
type pipeFile struct {
	fs.Inode
	engine *pipe.Engine
	path   string
}

var _ fs.InodeEmbedder = (*pipeFile)(nil)
var _ fs.NodeGetattrer = (*pipeFile)(nil)
var _ fs.NodeSetattrer = (*pipeFile)(nil)
var _ fs.NodeOpener = (*pipeFile)(nil)

func newPipeFile(engine *pipe.Engine, path string) *pipeFile {
	return &pipeFile{engine: engine, path: path}
}

func (f *pipeFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Attr = defaultAttr(fuse.S_IFREG | 0444)
	return 0
}

// Setattr only ever sees a truncate request in practice (streamed pipes have
// no other attributes worth setting); it is always a no-op success.
func (f *pipeFile) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	out.Attr = defaultAttr(fuse.S_IFREG | 0444)
	return 0
}

func (f *pipeFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	accessMode := flags & syscall.O_ACCMODE
	if accessMode == syscall.O_RDWR {
		return nil, 0, syscall.EINVAL
	}

	mode := protocol.ModeRead
	if accessMode == syscall.O_WRONLY {
		mode = protocol.ModeWrite
	}
	nonblock := flags&syscall.O_NONBLOCK != 0

	if _, err := f.engine.Open(f.path, mode, nonblock); err != nil {
		return nil, 0, errnoOf(err)
	}

	handle := newPipeHandle(f.engine, f.path, mode)
	return handle, fuse.FOPEN_DIRECT_IO, 0
}

// pipeHandle is the open file handle backing one read or write session on a
// pipe, holding the mode it was opened in. Engine-level poll support
// (internal/pipe/poll.go) is not wired to the kernel poll(2) hook here: the
// go-fuse version this adapter targets does not expose a stable FileHandle
// poll interface to attach it to, so readiness today is observed only
// through blocking Read/Write returning.
type pipeHandle struct {
	engine *pipe.Engine
	path   string
	mode   protocol.Mode

	closeOnce sync.Once
}

var _ fs.FileHandle = (*pipeHandle)(nil)
var _ fs.FileWriter = (*pipeHandle)(nil)
var _ fs.FileReader = (*pipeHandle)(nil)
var _ fs.FileFlusher = (*pipeHandle)(nil)
var _ fs.FileReleaser = (*pipeHandle)(nil)

func newPipeHandle(engine *pipe.Engine, path string, mode protocol.Mode) *pipeHandle {
	return &pipeHandle{engine: engine, path: path, mode: mode}
}

func (h *pipeHandle) nonblock(ctx context.Context) bool {
	// go-fuse does not thread O_NONBLOCK through per-call context; the daemon
	// always issues blocking read/write requests, matching fuse's own
	// direct-io model.
	return false
}

func (h *pipeHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.engine.Send(h.path, data, h.nonblock(ctx))
	if err != nil && n == 0 {
		return 0, errnoOf(err)
	}
	return uint32(n), 0
}

func (h *pipeHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.engine.Read(h.path, dest, h.nonblock(ctx))
	if err != nil && n == 0 {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *pipeHandle) Flush(ctx context.Context) syscall.Errno {
	if h.mode != protocol.ModeWrite {
		return 0
	}
	if _, err := h.engine.Flush(h.path, false); err != nil {
		return errnoOf(err)
	}
	return 0
}

func (h *pipeHandle) Release(ctx context.Context) syscall.Errno {
	h.closeOnce.Do(func() {
		if _, err := h.engine.Close(h.path, h.mode); err != nil {
			netlog.Error("fsadapter: close %s: %v", h.path, err)
		}
	})
	return 0
}

// errnoOf maps an engine error to the syscall.Errno FUSE expects. Engine
// errors are already syscall.Errno values (internal/pipe/errors.go); this
// only guards against unexpected plumbing errors slipping through as EIO.
func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}
