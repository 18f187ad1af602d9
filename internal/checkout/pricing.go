package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CedrosPay/checkout/internal/catalog"
	"github.com/CedrosPay/checkout/internal/money"
)

// ShippingRate is a configured fulfillment method. It becomes a
// FulfillmentOption when the destination country is served.
type ShippingRate struct {
	ID              string
	Title           string
	Subtitle        string
	Carrier         string
	Amount          int64
	TaxRateBps      int64
	MinDeliveryDays int
	MaxDeliveryDays int
	Countries       []string // empty serves every country
}

func (r ShippingRate) serves(country string) bool {
	if len(r.Countries) == 0 {
		return true
	}
	for _, c := range r.Countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// pricedItems is the result of resolving a session's requested items.
type pricedItems struct {
	lineItems []LineItem
	messages  []Message
}

// priceItems resolves each requested item through the catalog. Items that
// cannot be priced are reported as blocking messages, never dropped silently.
func priceItems(ctx context.Context, provider catalog.Provider, currency string, items []Item) (pricedItems, error) {
	var out pricedItems
	seen := make(map[string]int)

	for i, req := range items {
		param := fmt.Sprintf("$.items[%d]", i)

		if req.Quantity <= 0 {
			out.messages = append(out.messages, errorMessage(CodeInvalid, param+".quantity",
				fmt.Sprintf("Quantity for item %q must be a positive integer.", req.ID)))
			continue
		}

		item, err := provider.Lookup(ctx, req.ID)
		if errors.Is(err, catalog.ErrItemNotFound) {
			out.messages = append(out.messages, errorMessage(CodeInvalid, param,
				fmt.Sprintf("Item %q is not available in this store.", req.ID)))
			continue
		}
		if err != nil {
			return pricedItems{}, fmt.Errorf("lookup item %s: %w", req.ID, err)
		}
		if !item.Available {
			out.messages = append(out.messages, errorMessage(CodeOutOfStock, param,
				fmt.Sprintf("Item %q is out of stock.", req.ID)))
			continue
		}
		if !strings.EqualFold(item.Currency, currency) {
			out.messages = append(out.messages, errorMessage(CodeInvalid, param,
				fmt.Sprintf("Item %q is priced in %s, not %s.", req.ID, item.Currency, currency)))
			continue
		}

		// Repeated ids collapse into the first line item.
		if idx, ok := seen[item.ID]; ok {
			merged := out.lineItems[idx].Item
			merged.Quantity += req.Quantity
			li, err := priceLine(currency, item, merged)
			if err != nil {
				return pricedItems{}, err
			}
			out.lineItems[idx] = li
			continue
		}

		li, err := priceLine(currency, item, req)
		if err != nil {
			return pricedItems{}, err
		}
		seen[item.ID] = len(out.lineItems)
		out.lineItems = append(out.lineItems, li)
	}
	return out, nil
}

// priceLine computes base, discount, and tax for quantity units of item.
// Tax applies to the discounted amount with half-up rounding.
func priceLine(currency string, item catalog.Item, req Item) (LineItem, error) {
	base, err := money.New(currency, item.UnitAmount).Mul(req.Quantity)
	if err != nil {
		return LineItem{}, fmt.Errorf("price item %s: %w", item.ID, err)
	}
	discount, err := money.New(currency, item.Discount).Mul(req.Quantity)
	if err != nil {
		return LineItem{}, fmt.Errorf("price item %s: %w", item.ID, err)
	}
	if discount.Minor > base.Minor {
		discount = base
	}
	subtotal, err := base.Sub(discount)
	if err != nil {
		return LineItem{}, err
	}
	tax, err := subtotal.MulBasisPoints(item.TaxRateBps)
	if err != nil {
		return LineItem{}, err
	}
	total, err := subtotal.Add(tax)
	if err != nil {
		return LineItem{}, err
	}

	return LineItem{
		ID:         "li_" + item.ID,
		Item:       Item{ID: item.ID, Quantity: req.Quantity},
		Title:      item.Title,
		BaseAmount: base.Minor,
		Discount:   discount.Minor,
		Subtotal:   subtotal.Minor,
		Tax:        tax.Minor,
		Total:      total.Minor,
	}, nil
}

// fulfillmentOptions lists the rates serving addr. No address, no options.
func fulfillmentOptions(rates []ShippingRate, addr *Address, now time.Time) ([]FulfillmentOption, error) {
	if addr == nil {
		return nil, nil
	}
	var opts []FulfillmentOption
	for _, r := range rates {
		if !r.serves(addr.Country) {
			continue
		}
		amount := money.New("", r.Amount)
		tax, err := amount.MulBasisPoints(r.TaxRateBps)
		if err != nil {
			return nil, fmt.Errorf("price fulfillment option %s: %w", r.ID, err)
		}
		total, err := amount.Add(tax)
		if err != nil {
			return nil, fmt.Errorf("price fulfillment option %s: %w", r.ID, err)
		}
		opts = append(opts, FulfillmentOption{
			Type:                 "shipping",
			ID:                   r.ID,
			Title:                r.Title,
			Subtitle:             r.Subtitle,
			Carrier:              r.Carrier,
			EarliestDeliveryTime: now.Add(time.Duration(r.MinDeliveryDays) * 24 * time.Hour).UTC().Truncate(time.Second),
			LatestDeliveryTime:   now.Add(time.Duration(r.MaxDeliveryDays) * 24 * time.Hour).UTC().Truncate(time.Second),
			Subtotal:             r.Amount,
			Tax:                  tax.Minor,
			Total:                total.Minor,
		})
	}
	return opts, nil
}

// computeTotals derives the ordered totals. The total entry always equals
// subtotal - discount + fulfillment + tax + fee.
func computeTotals(lineItems []LineItem, option *FulfillmentOption) ([]Total, error) {
	var itemsBase, itemsDiscount, subtotal, itemsTax int64
	for _, li := range lineItems {
		itemsBase += li.BaseAmount
		itemsDiscount += li.Discount
		subtotal += li.Subtotal
		itemsTax += li.Tax
		if itemsBase < 0 || subtotal < 0 || itemsTax < 0 {
			return nil, money.ErrOverflow
		}
	}

	var discount, fulfillment, fee int64
	tax := itemsTax
	if option != nil {
		fulfillment = option.Subtotal
		tax += option.Tax
	}
	total := subtotal - discount + fulfillment + tax + fee
	if total < 0 {
		return nil, money.ErrOverflow
	}

	return []Total{
		{Type: TotalItemsBaseAmount, DisplayText: "Item(s) total", Amount: itemsBase},
		{Type: TotalItemsDiscount, DisplayText: "Item discounts", Amount: itemsDiscount},
		{Type: TotalSubtotal, DisplayText: "Subtotal", Amount: subtotal},
		{Type: TotalDiscount, DisplayText: "Discount", Amount: discount},
		{Type: TotalFulfillment, DisplayText: "Shipping", Amount: fulfillment},
		{Type: TotalTax, DisplayText: "Tax", Amount: tax},
		{Type: TotalFee, DisplayText: "Fees", Amount: fee},
		{Type: TotalTotal, DisplayText: "Total", Amount: total},
	}, nil
}

func errorMessage(code, param, content string) Message {
	return Message{Type: MessageError, Code: code, Param: param, ContentType: "plain", Content: content}
}

func infoMessage(param, content string) Message {
	return Message{Type: MessageInfo, Param: param, ContentType: "plain", Content: content}
}
