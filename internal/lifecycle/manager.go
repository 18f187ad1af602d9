// Package lifecycle closes long-lived resources in reverse registration order.
package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager tracks storage handles, background workers and dispatchers so
// one call can release all of them on shutdown.
type Manager struct {
	mu        sync.Mutex
	resources []resource
	closed    bool
	logger    zerolog.Logger
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager returns a Manager that logs through the global zerolog logger.
func NewManager() *Manager {
	return &Manager{logger: log.Logger}
}

// SetLogger changes where close failures are reported.
func (m *Manager) SetLogger(logger zerolog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Register adds a resource. Resources close last-in first-out, so register
// dependencies before their users.
func (m *Manager) Register(name string, closer io.Closer) {
	if closer == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, closer: closer})
}

// RegisterFunc registers a cleanup function.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	if fn == nil {
		return
	}
	m.Register(name, closerFunc(fn))
}

// Close releases every resource even when some fail and returns the joined
// errors. Calls after the first are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for i := len(m.resources) - 1; i >= 0; i-- {
		res := m.resources[i]
		if err := res.closer.Close(); err != nil {
			m.logger.Error().
				Err(err).
				Str("resource", res.name).
				Msg("lifecycle.close_resource_failed")
			errs = append(errs, fmt.Errorf("close %s: %w", res.name, err))
		}
	}
	m.resources = nil
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
