package idempotency

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no live record exists for a scope/key pair.
var ErrNotFound = errors.New("idempotency: record not found")

// ErrReservationLost is returned by Complete when the key is no longer held
// by the given reservation: its lease ran out and another request reserved
// the key, or it was already completed.
var ErrReservationLost = errors.New("idempotency: reservation no longer held")

// RecordStatus tracks whether the original request is still executing.
type RecordStatus string

const (
	StatusInFlight  RecordStatus = "in_flight"
	StatusCompleted RecordStatus = "completed"
)

// Response is the exact response returned for the original request.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Record is one idempotency key within a scope (the logical operation).
type Record struct {
	Scope       string
	Key         string
	Fingerprint string
	Token       string // identifies the reservation that owns the record
	Status      RecordStatus
	Response    *Response // nil while in flight
	CreatedAt   time.Time
	ExpiresAt   time.Time // lease end while in flight, retention end once completed
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Store persists idempotency records. Reserve must be atomic per scope/key:
// of N concurrent callers with no live record, exactly one gets reserved=true.
type Store interface {
	// Reserve inserts rec as in flight unless a live record exists, in which
	// case that record is returned and reserved is false. Expired records are
	// replaced.
	Reserve(ctx context.Context, rec Record) (existing *Record, reserved bool, err error)

	// Complete stores the response on the in-flight record reserved with
	// token and extends its expiry. Any other state returns ErrReservationLost.
	Complete(ctx context.Context, scope, key, token string, resp Response, expiresAt time.Time) error

	// Release deletes the in-flight record reserved with token so the key can
	// be retried. Records held by other reservations are left alone.
	Release(ctx context.Context, scope, key, token string) error

	// Get returns the live record or ErrNotFound.
	Get(ctx context.Context, scope, key string) (*Record, error)

	// DeleteExpired removes records expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

type compositeKey struct {
	scope string
	key   string
}

// MemoryStore is an in-memory implementation of Store with LRU eviction of
// completed records.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[compositeKey]*memoryEntry
	lru         *list.List
	maxSize     int
	now         func() time.Time
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

type memoryEntry struct {
	record  Record
	element *list.Element
}

// NewMemoryStore creates a new in-memory store with a maximum of 10,000 entries.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(10000, 5*time.Minute)
}

// NewMemoryStoreWithSize creates a new in-memory store with custom max size
// and cleanup interval.
func NewMemoryStoreWithSize(maxSize int, cleanupInterval time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	s := &MemoryStore{
		entries:     make(map[compositeKey]*memoryEntry),
		lru:         list.New(),
		maxSize:     maxSize,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go s.cleanup(cleanupInterval)

	return s
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, rec Record) (*Record, bool, error) {
	now := s.now()
	ck := compositeKey{rec.Scope, rec.Key}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[ck]; ok {
		if !entry.record.Expired(now) {
			s.lru.MoveToFront(entry.element)
			existing := entry.record
			return &existing, false, nil
		}
		s.removeLocked(ck, entry)
	}

	if len(s.entries) >= s.maxSize {
		s.evictLRU()
	}

	rec.Status = StatusInFlight
	rec.Response = nil
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	entry := &memoryEntry{record: rec}
	entry.element = s.lru.PushFront(ck)
	s.entries[ck] = entry
	return nil, true, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, scope, key, token string, resp Response, expiresAt time.Time) error {
	ck := compositeKey{scope, key}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[ck]
	if !ok || entry.record.Status != StatusInFlight || entry.record.Token != token {
		return ErrReservationLost
	}
	stored := resp
	stored.Body = append([]byte(nil), resp.Body...)
	entry.record.Status = StatusCompleted
	entry.record.Response = &stored
	entry.record.ExpiresAt = expiresAt
	s.lru.MoveToFront(entry.element)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, scope, key, token string) error {
	ck := compositeKey{scope, key}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[ck]; ok && entry.record.Status == StatusInFlight && entry.record.Token == token {
		s.removeLocked(ck, entry)
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, scope, key string) (*Record, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[compositeKey{scope, key}]
	if !ok || entry.record.Expired(now) {
		return nil, ErrNotFound
	}
	rec := entry.record
	return &rec, nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for ck, entry := range s.entries {
		if entry.record.Expired(now) {
			s.removeLocked(ck, entry)
			removed++
		}
	}
	return removed, nil
}

// evictLRU removes the least recently used completed record (caller must hold lock).
// In-flight reservations are never evicted.
func (s *MemoryStore) evictLRU() {
	for element := s.lru.Back(); element != nil; element = element.Prev() {
		ck := element.Value.(compositeKey)
		entry := s.entries[ck]
		if entry.record.Status == StatusCompleted {
			s.removeLocked(ck, entry)
			return
		}
	}
}

func (s *MemoryStore) removeLocked(ck compositeKey, entry *memoryEntry) {
	s.lru.Remove(entry.element)
	delete(s.entries, ck)
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			_, _ = s.DeleteExpired(context.Background(), s.now())
		}
	}
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}
