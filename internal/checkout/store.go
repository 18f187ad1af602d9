package checkout

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnchanged may be returned by an Update callback to skip the write.
// Update then returns the current session and a nil error.
var ErrUnchanged = errors.New("checkout: session unchanged")

// Store persists sessions. Update runs fn as one read-modify-write unit per
// session id: no update is lost. Compare-and-swap stores run fn again on a
// write conflict, so fn must only change the session it is given. If fn
// returns an error, nothing is written.
type Store interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (Session, error)
	Close() error
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// MemoryStore keeps sessions in process, serialising writers per id.
type MemoryStore struct {
	locks *keyedMutex

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:    newKeyedMutex(),
		sessions: make(map[string]Session),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return errors.New("checkout: session id already exists")
	}
	session.Version = 1
	s.sessions[session.ID] = session.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return current, nil
		}
		return Session{}, err
	}
	working.Version = current.Version + 1

	s.mu.Lock()
	s.sessions[id] = working.Clone()
	s.mu.Unlock()
	return working, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// DeleteFinishedBefore removes completed and canceled sessions last updated before cutoff.
func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, session := range s.sessions {
		if session.Status.Terminal() && session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
