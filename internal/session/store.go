package session

import (
	"sync"
	"time"

	"github.com/josedab/prflow/internal/errs"
)

// Store is the Conversation Session Store's persistence facade (spec
// §4.5). Get and Update both refresh the session's TTL, matching the
// "session stays alive while actively used" semantics the spec
// describes; a session that goes untouched for the configured TTL
// expires and later Get/Update calls return a not-found error.
type Store interface {
	Create(session *Session) error
	Get(id string) (*Session, error)
	Update(id string, fn func(*Session)) error
	Delete(id string) error
	Keys() ([]string, error)
	Close()
}

type entry struct {
	session   *Session
	expiresAt time.Time
}

// memoryStore is the in-process reference Store: a mutex-guarded map
// plus a background janitor goroutine that sweeps expired entries,
// grounded on the teacher's poller.go scheduled-cleanup shape
// (cleanupStaleAgents run from a periodic background job) adapted from
// a plugin-hosted cluster job to a plain ticker since this isn't a
// Mattermost plugin process.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore returns a Store backed by an in-process map, with a
// janitor goroutine that evicts expired sessions every sweepInterval.
// Callers must call Close when done to stop the janitor.
func NewMemoryStore(ttl, sweepInterval time.Duration) Store {
	s := &memoryStore{
		entries: make(map[string]*entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go s.janitor(sweepInterval)
	return s
}

func (s *memoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}

func (s *memoryStore) Create(session *Session) error {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[session.ID] = &entry{session: session, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *memoryStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		delete(s.entries, id)
		return nil, errs.NotFound("session not found or expired: " + id)
	}
	e.expiresAt = time.Now().Add(s.ttl)
	clone := *e.session
	clone.Messages = append([]Message(nil), e.session.Messages...)
	return &clone, nil
}

func (s *memoryStore) Update(id string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		delete(s.entries, id)
		return errs.NotFound("session not found or expired: " + id)
	}
	fn(e.session)
	e.session.UpdatedAt = time.Now()
	e.expiresAt = e.session.UpdatedAt.Add(s.ttl)
	return nil
}

func (s *memoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *memoryStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, id)
	}
	return keys, nil
}

func (s *memoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}
