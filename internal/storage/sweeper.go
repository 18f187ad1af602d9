package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TokenCleaner drops delegated tokens past their retention window.
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// RecordSweeper drops expired idempotency records.
type RecordSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SweeperConfig holds the schedule for background cleanup.
type SweeperConfig struct {
	Interval         time.Duration // How often a pass runs (default: 1h)
	SessionRetention time.Duration // Finished sessions older than this are deleted; 0 keeps them
}

// Sweeper periodically removes expired tokens, idempotency records and old
// finished sessions. Nil collaborators are skipped.
type Sweeper struct {
	tokens   TokenCleaner
	records  RecordSweeper
	sessions SessionPruner
	config   SweeperConfig
	logger   zerolog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSweeper creates a sweeper. sessions may be nil when the store cannot prune.
func NewSweeper(tokens TokenCleaner, records RecordSweeper, sessions SessionPruner, cfg SweeperConfig, logger zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Sweeper{
		tokens:   tokens,
		records:  records,
		sessions: sessions,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs a pass immediately and then on every interval.
func (s *Sweeper) Start() {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Dur("session_retention", s.config.SessionRetention).
		Msg("sweeper.started")
	go s.run()
}

// Stop ends the loop and waits for an in-progress pass. Safe to call twice.
func (s *Sweeper) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.doneChan
	s.logger.Info().Msg("sweeper.stopped")
	return nil
}

func (s *Sweeper) run() {
	defer close(s.doneChan)

	s.pass()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pass()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Sweeper) pass() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := s.RunNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("sweeper.pass_failed")
	}
}

// RunNow performs one cleanup pass. Every step runs even if an earlier one fails.
func (s *Sweeper) RunNow(ctx context.Context) error {
	var (
		errs                    []error
		tokens, records, pruned int64
		err                     error
	)

	if s.tokens != nil {
		if tokens, err = s.tokens.CleanupExpired(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.records != nil {
		if records, err = s.records.Sweep(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sweep idempotency records: %w", err))
		}
	}
	if s.sessions != nil && s.config.SessionRetention > 0 {
		cutoff := s.now().Add(-s.config.SessionRetention)
		if pruned, err = s.sessions.DeleteFinishedBefore(ctx, cutoff); err != nil {
			errs = append(errs, fmt.Errorf("prune sessions: %w", err))
		}
	}

	s.logger.Info().
		Int64("tokens_removed", tokens).
		Int64("records_removed", records).
		Int64("sessions_removed", pruned).
		Msg("sweeper.pass_completed")

	return errors.Join(errs...)
}
