package server

import (
	"context"
	"sync"
	"time"

	"github.com/chazu/protovm/vm"
	"github.com/google/uuid"
)

// handle is a server-side reference to a runtime value.
type handle struct {
	id        string
	pin       *vm.Pinned
	sessionID string
	created   time.Time
	lastUsed  time.Time
}

// HandleStore maps opaque IDs to pinned runtime values, so a client can
// refer to an object across requests while the collector moves it.
//
// Create, Lookup and every method that releases handles touch the runtime
// and must run on the worker goroutine. The map itself is guarded so Len
// may be called from anywhere.
type HandleStore struct {
	mu      sync.Mutex
	handles map[string]*handle
	now     func() time.Time
}

// NewHandleStore creates a new handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{
		handles: make(map[string]*handle),
		now:     time.Now,
	}
}

// Create pins value and returns its handle ID.
func (s *HandleStore) Create(rt *vm.Runtime, value vm.Value, sessionID string) string {
	id := uuid.NewString()
	now := s.now()
	h := &handle{
		id:        id,
		pin:       rt.Pin(value),
		sessionID: sessionID,
		created:   now,
		lastUsed:  now,
	}

	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()
	return id
}

// Lookup returns the current value for a handle.
func (s *HandleStore) Lookup(id string) (vm.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return vm.Undefined, false
	}
	h.lastUsed = s.now()
	return h.pin.Get(), true
}

// Release unpins one handle. It reports whether the handle existed.
func (s *HandleStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return false
	}
	h.pin.Release()
	delete(s.handles, id)
	return true
}

// ReleaseSession releases all handles created for a session.
func (s *HandleStore) ReleaseSession(sessionID string) int {
	return s.releaseIf(func(h *handle) bool { return h.sessionID == sessionID })
}

// ReleaseAll releases every handle.
func (s *HandleStore) ReleaseAll() int {
	return s.releaseIf(func(*handle) bool { return true })
}

// Sweep releases handles that haven't been used within ttl.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)
	return s.releaseIf(func(h *handle) bool { return h.lastUsed.Before(cutoff) })
}

func (s *HandleStore) releaseIf(match func(*handle) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, h := range s.handles {
		if match(h) {
			h.pin.Release()
			delete(s.handles, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// StartSweeper runs periodic TTL sweeps on the worker goroutine.
// Returns a stop function.
func (s *HandleStore) StartSweeper(w *VMWorker, interval, ttl time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := do(ctx, w, func(*vm.Runtime) (int, error) {
					return s.Sweep(ttl), nil
				})
				if err == nil && n > 0 {
					log.Debugf("swept %d idle handles", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
