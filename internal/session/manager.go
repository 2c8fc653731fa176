package session

import (
	"context"
	"sync"

	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/exec"
	"github.com/kvsql/kvsql/internal/kv"
)

// Manager owns every live Session, backed by a single kv.Backend and
// catalog.Cache shared across connections. Grounded on
// internal/reactive.Registry's mutex-guarded map shape, repurposed here
// to key on session ID instead of live query ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	backend  kv.Backend
	executor *exec.Executor
}

func NewManager(backend kv.Backend, cat *catalog.Cache) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		backend:  backend,
		executor: exec.New(cat),
	}
}

// Open registers a new session under id and returns it. A caller (the
// wire front, or a test) owns calling Close when the connection ends.
func (m *Manager) Open(id, currentUser, database string) *Session {
	sess := newSession(id, currentUser, database, m.backend, m.executor)
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess
}

// Close unregisters id's session, rolling back any transaction it left
// open.
func (m *Manager) Close(ctx context.Context, id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.Cancel(ctx)
	}
}

// Get looks up a registered session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Snapshot lists every live session's Info, for the admin surface's
// /debug/sessions endpoint.
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	ids := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		ids = append(ids, sess)
	}
	m.mu.RUnlock()

	out := make([]Info, len(ids))
	for i, sess := range ids {
		out[i] = sess.Info()
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
