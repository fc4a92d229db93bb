// internal/dirserver/store.go

// Package dirserver is the dev session directory: it backs the REST API the
// client talks to, keeping each session alive only as long as its host keeps
// heartbeating.
package dirserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blockfriends/partylink/internal/directory"
)

// ErrNotFound is returned for sessions that don't exist or have expired.
var ErrNotFound = errors.New("dirserver: session not found")

// Store persists sessions with a TTL. Expiry is the garbage collector: a
// session whose host stops heartbeating simply vanishes.
type Store interface {
	Put(ctx context.Context, s *directory.Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*directory.Session, error)
	GetByCode(ctx context.Context, code string) (*directory.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*directory.Session, error)
	// Touch renews the TTL without rewriting the session.
	Touch(ctx context.Context, id string, ttl time.Duration) error
}

type memoryEntry struct {
	session *directory.Session
	expires time.Time
}

// cloneSession deep-copies a session so no two callers ever share the maps
// inside. The redis store gets the same isolation for free from its JSON
// round-trip; the memory store has to do it by hand, otherwise a handler
// reading a query result races a handler mutating the same session.
func cloneSession(s *directory.Session) *directory.Session {
	out := *s
	if s.Data != nil {
		out.Data = make(map[string]directory.Property, len(s.Data))
		for key, prop := range s.Data {
			out.Data[key] = prop
		}
	}
	out.Players = make([]directory.Player, len(s.Players))
	for i, p := range s.Players {
		out.Players[i] = p
		if p.Data != nil {
			data := make(map[string]string, len(p.Data))
			for key, value := range p.Data {
				data[key] = value
			}
			out.Players[i].Data = data
		}
	}
	return &out
}

// MemoryStore is the in-process Store, for tests and single-node dev runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	codes    map[string]string

	// now is swappable so expiry tests don't sleep.
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		codes:    make(map[string]string),
		now:      time.Now,
	}
}

// SetClock replaces the expiry clock.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) Put(_ context.Context, s *directory.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = &memoryEntry{session: cloneSession(s), expires: m.now().Add(ttl)}
	m.codes[s.Code] = s.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*directory.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *MemoryStore) get(id string) (*directory.Session, error) {
	entry, ok := m.sessions[id]
	if !ok || m.now().After(entry.expires) {
		m.evict(id)
		return nil, ErrNotFound
	}
	return cloneSession(entry.session), nil
}

func (m *MemoryStore) GetByCode(_ context.Context, code string) (*directory.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return m.get(id)
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(id)
	return nil
}

func (m *MemoryStore) evict(id string) {
	if entry, ok := m.sessions[id]; ok {
		delete(m.codes, entry.session.Code)
	}
	delete(m.sessions, id)
}

func (m *MemoryStore) List(_ context.Context) ([]*directory.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*directory.Session
	for id, entry := range m.sessions {
		if m.now().After(entry.expires) {
			m.evict(id)
			continue
		}
		out = append(out, cloneSession(entry.session))
	}
	return out, nil
}

func (m *MemoryStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok || m.now().After(entry.expires) {
		m.evict(id)
		return ErrNotFound
	}
	entry.expires = m.now().Add(ttl)
	return nil
}
