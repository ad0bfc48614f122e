package flatfile

import (
	"context"
	"sync"

	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
	"github.com/tieredfetch/tieredfetcher/internal/types"
)

// Manager hands out File handles by queue identity, creating them lazily
// and caching them so repeated lookups for the same queue return the same
// pointer identity - required for cache keys to line up across requests.
type Manager struct {
	mu        sync.Mutex
	files     map[types.MessageQueue]*File
	backend   tieredbackend.Backend
	minFactor int
}

// NewManager returns a Manager backed by backend. minFactor is the floor
// every new File's ReadAheadPolicy starts at and saturates down to.
func NewManager(backend tieredbackend.Backend, minFactor int) *Manager {
	return &Manager{
		files:     make(map[types.MessageQueue]*File),
		backend:   backend,
		minFactor: minFactor,
	}
}

// GetFlatFile returns the handle for queue, creating it on first use. ok is
// false if the backend has no knowledge of the queue at all.
func (m *Manager) GetFlatFile(ctx context.Context, queue types.MessageQueue) (*File, bool) {
	m.mu.Lock()
	f, exists := m.files[queue]
	m.mu.Unlock()
	if exists {
		return f, true
	}

	if _, _, _, ok := m.backend.QueueBounds(ctx, queue); !ok {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if f, exists = m.files[queue]; exists {
		return f, true
	}
	f = newFile(queue, m.backend, m.minFactor)
	m.files[queue] = f
	return f, true
}

// Drop removes queue's handle from the manager. Callers must invalidate
// every cache entry keyed under the handle's identity before (or as part
// of) calling Drop, since a dropped handle's pointer may be reused by the
// Go allocator once unreferenced.
func (m *Manager) Drop(queue types.MessageQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, queue)
}
