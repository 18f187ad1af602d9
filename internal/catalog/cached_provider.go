package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CedrosPay/checkout/internal/cacheutil"
	"golang.org/x/sync/singleflight"
)

// CachedProvider caches lookups for a TTL. Concurrent misses for the same
// id share one underlying call. Unknown ids are cached too.
type CachedProvider struct {
	underlying Provider
	ttl        time.Duration
	group      singleflight.Group

	mu    sync.RWMutex
	items map[string]cacheutil.CachedValue[lookupResult]
	list  cacheutil.CachedValue[[]Item]
}

type lookupResult struct {
	item     Item
	notFound bool
}

// NewCachedProvider wraps underlying with a TTL cache.
func NewCachedProvider(underlying Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		underlying: underlying,
		ttl:        ttl,
		items:      make(map[string]cacheutil.CachedValue[lookupResult]),
	}
}

// Lookup implements Provider.
func (p *CachedProvider) Lookup(ctx context.Context, itemID string) (Item, error) {
	now := time.Now()
	p.mu.RLock()
	entry, ok := p.items[itemID]
	p.mu.RUnlock()
	if ok && now.Sub(entry.FetchedAt) < p.ttl {
		return entry.Value.unwrap()
	}

	v, err, _ := p.group.Do(itemID, func() (any, error) {
		item, err := p.underlying.Lookup(ctx, itemID)
		res := lookupResult{item: item}
		switch {
		case errors.Is(err, ErrItemNotFound):
			res.notFound = true
		case err != nil:
			return nil, err
		}

		p.mu.Lock()
		p.items[itemID] = cacheutil.CachedValue[lookupResult]{Value: res, FetchedAt: time.Now()}
		p.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return Item{}, err
	}
	return v.(lookupResult).unwrap()
}

func (r lookupResult) unwrap() (Item, error) {
	if r.notFound {
		return Item{}, ErrItemNotFound
	}
	return r.item, nil
}

// List implements Provider.
func (p *CachedProvider) List(ctx context.Context) ([]Item, error) {
	return cacheutil.ReadThrough(
		&p.mu,
		func(now time.Time) ([]Item, bool) {
			if p.list.Value != nil && now.Sub(p.list.FetchedAt) < p.ttl {
				return p.list.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]Item, error) {
			items, err := p.underlying.List(ctx)
			if err != nil {
				return nil, err
			}
			p.list = cacheutil.CachedValue[[]Item]{Value: items, FetchedAt: now}
			return items, nil
		},
	)
}

// InvalidateCache drops every cached entry.
func (p *CachedProvider) InvalidateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = make(map[string]cacheutil.CachedValue[lookupResult])
	p.list = cacheutil.CachedValue[[]Item]{}
}

// Close closes the underlying provider.
func (p *CachedProvider) Close() error {
	return p.underlying.Close()
}
