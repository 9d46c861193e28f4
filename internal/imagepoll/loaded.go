package imagepoll

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LoadedSet records goals whose image has been resolved during this
// session. Entries are only ever added.
type LoadedSet struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]struct{}
}

func NewLoadedSet() *LoadedSet {
	return &LoadedSet{ids: make(map[uuid.UUID]struct{})}
}

// Add marks id as loaded and reports whether it was newly added.
func (s *LoadedSet) Add(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *LoadedSet) Has(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *LoadedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Handle controls one scheduled polling task.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func closedHandle() *Handle {
	h := newHandle(context.Background())
	h.Cancel()
	h.finish()
	return h
}

// Cancel stops the task. Safe to call more than once.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the task has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) finish() {
	h.once.Do(func() { close(h.done) })
}
