package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCloseOrderAndErrors(t *testing.T) {
	m := NewManager()
	m.SetLogger(zerolog.Nop())

	var order []string
	errStorage := errors.New("storage busy")
	m.RegisterFunc("storage", func() error {
		order = append(order, "storage")
		return errStorage
	})
	m.RegisterFunc("sweeper", func() error {
		order = append(order, "sweeper")
		return nil
	})
	m.RegisterFunc("dispatcher", func() error {
		order = append(order, "dispatcher")
		return nil
	})

	err := m.Close()
	if !errors.Is(err, errStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	want := []string{"dispatcher", "sweeper", "storage"}
	if len(order) != len(want) {
		t.Fatalf("closed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("closed %v, want %v", order, want)
		}
	}

	if err := m.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("resources closed twice: %v", order)
	}
}

func TestRegisterIgnoresNil(t *testing.T) {
	m := NewManager()
	m.Register("nil", nil)
	m.RegisterFunc("nil-func", nil)
	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
