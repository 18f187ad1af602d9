package callbacks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DLQStore persists events that exhausted delivery or overflowed the queue.
type DLQStore interface {
	SaveFailedEvent(ctx context.Context, event FailedEvent) error
	ListFailedEvents(ctx context.Context, limit int) ([]FailedEvent, error)
	DeleteFailedEvent(ctx context.Context, id string) error
}

// FailedEvent is a dead-lettered webhook delivery.
type FailedEvent struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	EventType   EventType       `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error"`
	LastAttempt time.Time       `json:"last_attempt"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MemoryDLQStore keeps failed events in memory (for testing/development).
type MemoryDLQStore struct {
	mu     sync.RWMutex
	events map[string]FailedEvent
}

// NewMemoryDLQStore creates an in-memory DLQ store.
func NewMemoryDLQStore() *MemoryDLQStore {
	return &MemoryDLQStore{events: make(map[string]FailedEvent)}
}

func (m *MemoryDLQStore) SaveFailedEvent(_ context.Context, event FailedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event
	return nil
}

func (m *MemoryDLQStore) ListFailedEvents(_ context.Context, limit int) ([]FailedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return listOldestFirst(m.events, limit), nil
}

func (m *MemoryDLQStore) DeleteFailedEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	return nil
}

// FileDLQStore keeps failed events in a JSON file, rewritten on every change.
type FileDLQStore struct {
	mu       sync.RWMutex
	filePath string
	events   map[string]FailedEvent
}

// NewFileDLQStore opens (or creates on first write) a file-backed DLQ.
func NewFileDLQStore(filePath string) (*FileDLQStore, error) {
	store := &FileDLQStore{
		filePath: filePath,
		events:   make(map[string]FailedEvent),
	}
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load DLQ file: %w", err)
	}
	return store, nil
}

func (f *FileDLQStore) SaveFailedEvent(_ context.Context, event FailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[event.ID] = event
	return f.persist()
}

func (f *FileDLQStore) ListFailedEvents(_ context.Context, limit int) ([]FailedEvent, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return listOldestFirst(f.events, limit), nil
}

func (f *FileDLQStore) DeleteFailedEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, id)
	return f.persist()
}

func (f *FileDLQStore) load() error {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}
	var events map[string]FailedEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("unmarshal DLQ data: %w", err)
	}
	if events != nil {
		f.events = events
	}
	return nil
}

func (f *FileDLQStore) persist() error {
	data, err := json.MarshalIndent(f.events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal DLQ data: %w", err)
	}
	if dir := filepath.Dir(f.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create DLQ dir: %w", err)
		}
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write DLQ file: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename DLQ file: %w", err)
	}
	return nil
}

func listOldestFirst(events map[string]FailedEvent, limit int) []FailedEvent {
	result := make([]FailedEvent, 0, len(events))
	for _, ev := range events {
		result = append(result, ev)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
