// Package cleanup tracks resources acquired during a pipeline run (locally
// built images, temporary archives) and releases each of them at most once.
package cleanup

import (
	"sync"

	"github.com/imyashkale/deployer/internal/logger"
)

// Func releases one resource
type Func func() error

// Handle is returned by Acquire and releases its resource at most once
type Handle struct {
	name string
	fn   Func
	once sync.Once
	err  error
}

// Release runs the release function if it has not run yet
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.release()
	return h.err
}

// release reports whether this call is the one that ran fn
func (h *Handle) release() bool {
	ran := false
	h.once.Do(func() {
		ran = true
		h.err = h.fn()
		if h.err != nil {
			logger.WithFields(map[string]interface{}{
				"resource": h.name,
				"error":    h.err.Error(),
			}).Warn("Cleanup failed")
		} else {
			logger.WithField("resource", h.name).Debug("Resource released")
		}
	})
	return ran
}

// Scope owns the handles acquired during one run. It is safe for concurrent
// use, so a signal handler may release it while the pipeline is running.
type Scope struct {
	mu       sync.Mutex
	handles  []*Handle
	released bool
}

// NewScope creates an empty scope
func NewScope() *Scope {
	return &Scope{}
}

// Acquire registers fn to be run when the scope is released. A scope that was
// already released runs fn immediately.
func (s *Scope) Acquire(name string, fn Func) *Handle {
	h := &Handle{name: name, fn: fn}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		_ = h.Release()
		return h
	}
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h
}

// Len returns the number of handles registered with the scope
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Release runs every outstanding handle in reverse acquisition order.
// Only the first call does anything. It returns the number of handles whose
// release function ran here; handles released earlier are not counted.
func (s *Scope) Release() int {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return 0
	}
	s.released = true
	handles := s.handles
	s.mu.Unlock()

	n := 0
	for i := len(handles) - 1; i >= 0; i-- {
		if handles[i].release() {
			n++
		}
	}
	return n
}
