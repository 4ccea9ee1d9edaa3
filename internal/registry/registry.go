// Package registry implements the single mutex-guarded path-to-pipe mapping
// every open call looks up. It holds non-owning references: the last closer
// of a pipe owns its destruction, never the registry.
package registry

import (
	"sync"

	"github.com/samber/lo"
)

// Pipe is the subset of the pipe engine the registry needs to know about. It
// exists so this package has no import-cycle dependency on internal/pipe;
// the concrete *pipe.Pipe satisfies it.
type Pipe interface {
	Path() string
}

// Registry maps path to pipe under a single lock.
type Registry struct {
	mu    sync.Mutex
	pipes map[string]Pipe
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{pipes: make(map[string]Pipe)}
}

// GetOrCreate returns the existing pipe at path, or calls newPipe to build
// one and inserts it. created reports which case occurred. newPipe is called
// with the registry lock held, so it must not itself touch the registry.
func (r *Registry) GetOrCreate(path string, newPipe func() Pipe) (p Pipe, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.pipes[path]; ok {
		return existing, false
	}
	p = newPipe()
	r.pipes[path] = p
	return p, true
}

// Get returns the pipe at path, if any.
func (r *Registry) Get(path string) (Pipe, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipes[path]
	return p, ok
}

// Remove deletes path from the registry. Idempotent. Per the lock-order
// rule (registry mutex before pipe mutex), callers must not hold the pipe's
// own mutex while calling Remove.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pipes, path)
}

// Len reports the number of pipes currently registered. Used by the health
// surface and by tests asserting an empty registry after teardown.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipes)
}

// Paths returns a snapshot of every path currently registered, sorted is not
// guaranteed. Used by the FUSE adapter's readdir and the health surface.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.pipes)
}

// ForceExitAll invokes fn on every registered pipe. Used by the dispatcher
// on transport failure: a short read or EOF on receive triggers force_exit
// on every pipe in the registry.
func (r *Registry) ForceExitAll(fn func(Pipe)) {
	r.mu.Lock()
	pipes := lo.Values(r.pipes)
	r.mu.Unlock()

	for _, p := range pipes {
		fn(p)
	}
}
