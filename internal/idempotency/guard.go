package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/google/uuid"
)

// ErrInProgress is returned when a duplicate request waited for the original
// to finish and the wait ran out.
var ErrInProgress = errors.New("idempotency: original request still in progress")

// Kind classifies an observation.
type Kind int

const (
	// KindNew means the caller holds the reservation and must Record or Release.
	KindNew Kind = iota
	// KindReplay means the identical request already completed; return Response verbatim.
	KindReplay
	// KindConflict means the key was used with a different request.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindReplay:
		return "replay"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Outcome is the result of Observe.
type Outcome struct {
	Kind     Kind
	Response *Response // set for KindReplay
	// Token identifies the reservation for KindNew; pass it to Record or Release.
	Token string
}

// Guard deduplicates retried and concurrent requests sharing an idempotency key.
// Handlers call Observe before executing and Record (or Release) afterwards.
type Guard struct {
	store        Store
	ttl          time.Duration
	leaseTTL     time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	maxPoll      time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL sets how long completed responses are retained (default 24h).
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLeaseTTL bounds how long an in-flight reservation blocks the key if the
// holder dies without recording (default 2m).
func WithLeaseTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.leaseTTL = ttl
		}
	}
}

// WithWaitTimeout bounds how long a duplicate waits for the original (default 10s).
func WithWaitTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.waitTimeout = d
		}
	}
}

// WithPollInterval sets the initial wait poll interval (default 10ms).
func WithPollInterval(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

// WithMetrics records outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// NewGuard creates a guard over store.
func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:        store,
		ttl:          24 * time.Hour,
		leaseTTL:     2 * time.Minute,
		waitTimeout:  10 * time.Second,
		pollInterval: 10 * time.Millisecond,
		maxPoll:      250 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Observe reserves key within scope or reports what happened to an earlier
// request with the same key. Exactly one of several concurrent callers with
// the same key receives KindNew; the others wait until it records, then
// replay or conflict.
func (g *Guard) Observe(ctx context.Context, scope, key, fingerprint string) (Outcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.waitTimeout)
	defer cancel()

	token := uuid.NewString()
	interval := g.pollInterval
	for {
		now := g.now()
		existing, reserved, err := g.store.Reserve(ctx, Record{
			Scope:       scope,
			Key:         key,
			Fingerprint: fingerprint,
			Token:       token,
			CreatedAt:   now,
			ExpiresAt:   now.Add(g.leaseTTL),
		})
		if err != nil {
			return Outcome{}, err
		}
		if reserved {
			g.metrics.ObserveIdempotency(scope, KindNew.String())
			return Outcome{Kind: KindNew, Token: token}, nil
		}
		if existing.Fingerprint != fingerprint {
			g.metrics.ObserveIdempotency(scope, KindConflict.String())
			return Outcome{Kind: KindConflict}, nil
		}
		if existing.Status == StatusCompleted && existing.Response != nil {
			g.metrics.ObserveIdempotency(scope, KindReplay.String())
			return Outcome{Kind: KindReplay, Response: existing.Response}, nil
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return Outcome{}, err
			}
			g.metrics.ObserveIdempotency(scope, "in_progress")
			return Outcome{}, ErrInProgress
		case <-time.After(interval):
		}
		if interval *= 2; interval > g.maxPoll {
			interval = g.maxPoll
		}
	}
}

// Record stores the response for the reservation identified by token. If the
// lease ran out and another request now holds the key, its record is left
// untouched and ErrReservationLost is returned.
func (g *Guard) Record(ctx context.Context, scope, key, token string, resp Response) error {
	return g.store.Complete(ctx, scope, key, token, resp, g.now().Add(g.ttl))
}

// Release abandons a reservation so the client may retry the same key.
func (g *Guard) Release(ctx context.Context, scope, key, token string) error {
	return g.store.Release(ctx, scope, key, token)
}

// Sweep removes expired records. Backends without native expiry rely on this.
func (g *Guard) Sweep(ctx context.Context) (int64, error) {
	return g.store.DeleteExpired(ctx, g.now())
}
