package vault

import (
	"context"
	"sync"
	"time"
)

// Store persists delegated tokens. Consume must be a single atomic
// check-and-set per token id: two concurrent calls can never both succeed.
type Store interface {
	Create(ctx context.Context, token Token) error
	Get(ctx context.Context, id string) (Token, error)
	// Consume applies Check at now and, on success, marks the token used in
	// the same step. It returns the consumed token.
	Consume(ctx context.Context, req ConsumeRequest, now time.Time) (Token, error)
	// DeleteExpired removes tokens whose allowance expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// MemoryStore keeps tokens in process. A token is mutated only while its own
// lock is held, so consumption of different tokens never contends.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*memoryToken
}

type memoryToken struct {
	mu    sync.Mutex
	token Token
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*memoryToken)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = &memoryToken{token: cloneToken(token)}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Token, error) {
	entry := s.lookup(id)
	if entry == nil {
		return Token{}, ErrInvalidToken
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneToken(entry.token), nil
}

// Consume implements Store.
func (s *MemoryStore) Consume(_ context.Context, req ConsumeRequest, now time.Time) (Token, error) {
	entry := s.lookup(req.TokenID)
	if entry == nil {
		return Token{}, ErrInvalidToken
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := Check(entry.token, req, now); err != nil {
		return Token{}, err
	}
	usedAt := now
	entry.token.Used = true
	entry.token.UsedAt = &usedAt
	return cloneToken(entry.token), nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, entry := range s.tokens {
		entry.mu.Lock()
		expired := entry.token.Allowance.ExpiresAt.Before(cutoff)
		entry.mu.Unlock()
		if expired {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) lookup(id string) *memoryToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[id]
}

func cloneToken(t Token) Token {
	if t.Metadata != nil {
		md := make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			md[k] = v
		}
		t.Metadata = md
	}
	if t.RiskSignals != nil {
		t.RiskSignals = append([]RiskSignal(nil), t.RiskSignals...)
	}
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		t.UsedAt = &usedAt
	}
	return t
}
