package catalog

import (
	"context"
	"sort"

	"github.com/CedrosPay/checkout/internal/config"
)

// YAMLProvider serves items declared in the configuration file.
type YAMLProvider struct {
	items map[string]Item
}

// NewYAMLProvider converts configured items. Keys are item ids.
func NewYAMLProvider(items map[string]config.CatalogItem) *YAMLProvider {
	out := make(map[string]Item, len(items))
	for key, ci := range items {
		id := ci.ItemID
		if id == "" {
			id = key
		}
		out[id] = Item{
			ID:         id,
			Title:      ci.Title,
			UnitAmount: ci.UnitAmount,
			Discount:   ci.Discount,
			Currency:   ci.Currency,
			TaxRateBps: ci.TaxRateBps,
			Available:  ci.Available == nil || *ci.Available,
			Metadata:   ci.Metadata,
		}
	}
	return &YAMLProvider{items: out}
}

// Lookup implements Provider.
func (p *YAMLProvider) Lookup(_ context.Context, itemID string) (Item, error) {
	item, ok := p.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

// List implements Provider.
func (p *YAMLProvider) List(context.Context) ([]Item, error) {
	out := make([]Item, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements Provider.
func (p *YAMLProvider) Close() error { return nil }
