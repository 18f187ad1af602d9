package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryStoreCreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s := Session{ID: "cs_1", Status: StatusNotReadyForPayment, Buyer: &Buyer{Email: "a@example.com"}}
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, s); err == nil {
		t.Fatal("duplicate Create() error = nil")
	}

	got, err := store.Get(ctx, "cs_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	got.Buyer.Email = "mutated@example.com"
	again, _ := store.Get(ctx, "cs_1")
	if again.Buyer.Email != "a@example.com" {
		t.Errorf("Get() returned shared state")
	}

	if _, err := store.Get(ctx, "cs_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() missing error = %v", err)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, Session{ID: "cs_1", Status: StatusNotReadyForPayment})

	updated, err := store.Update(ctx, "cs_1", func(s *Session) error {
		s.Status = StatusReadyForPayment
		return nil
	})
	if err != nil || updated.Status != StatusReadyForPayment || updated.Version != 2 {
		t.Fatalf("Update() = %+v, %v", updated, err)
	}

	boom := errors.New("boom")
	if _, err := store.Update(ctx, "cs_1", func(s *Session) error {
		s.Status = StatusCanceled
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}
	got, _ := store.Get(ctx, "cs_1")
	if got.Status != StatusReadyForPayment || got.Version != 2 {
		t.Errorf("failed update leaked: %+v", got)
	}

	unchanged, err := store.Update(ctx, "cs_1", func(s *Session) error {
		s.Status = StatusCanceled
		return ErrUnchanged
	})
	if err != nil || unchanged.Status != StatusReadyForPayment || unchanged.Version != 2 {
		t.Errorf("ErrUnchanged update = %+v, %v", unchanged, err)
	}

	if _, err := store.Update(ctx, "cs_missing", func(*Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Update() missing error = %v", err)
	}
}

func TestMemoryStoreConcurrentUpdatesNotLost(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, Session{ID: "cs_1"})

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Update(ctx, "cs_1", func(s *Session) error {
				s.RequestedItems = append(s.RequestedItems, Item{ID: "item", Quantity: 1})
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "cs_1")
	if len(got.RequestedItems) != writers || got.Version != writers+1 {
		t.Errorf("items = %d version = %d, want %d and %d", len(got.RequestedItems), got.Version, writers, writers+1)
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Errorf("locks = %d, want 0 after unlock", len(k.locks))
	}
}
