package ticketing

import (
	"fmt"
	"math"

	"guestlist/entity"

	"github.com/shopspring/decimal"
)

type ItemRequest struct {
	CategoryID string `json:"category_id"`
	Quantity   uint   `json:"quantity"`
}

type QuoteLine struct {
	CategoryID      string          `json:"category_id"`
	Label           string          `json:"label"`
	Quantity        uint            `json:"quantity"`
	ListPrice       decimal.Decimal `json:"list_price"`
	ChargedPrice    decimal.Decimal `json:"charged_price"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	AvailableTicket uint            `json:"available"`
}

type Quote struct {
	EventID  string         `json:"event_id"`
	Lines    []QuoteLine    `json:"lines"`
	Promo    *PromoDiscount `json:"promo,omitempty"`
	Total    entity.Money   `json:"total"`
	Currency string         `json:"-"`
}

func (q Quote) LineItems() []entity.LineItem {
	items := make([]entity.LineItem, 0, len(q.Lines))
	for _, l := range q.Lines {
		items = append(items, entity.LineItem{
			CategoryID: l.CategoryID,
			Quantity:   l.Quantity,
			UnitPrice:  l.ChargedPrice,
		})
	}
	return items
}

// DiscountedPrice never goes below zero.
func DiscountedPrice(unitPrice, discount decimal.Decimal) decimal.Decimal {
	price := unitPrice.Sub(discount)
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}

// MaxQuantity bounds a single line. Category capacity is stored as a 32-bit
// integer, so no larger order could ever be granted.
const MaxQuantity = math.MaxInt32

// mergeItems validates the requested items and folds repeated categories into
// one line, keeping the order of first appearance.
func mergeItems(items []ItemRequest) ([]ItemRequest, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "at least one ticket category is required"}
	}

	merged := make([]ItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.CategoryID == "" {
			return nil, &ValidationError{Field: "category_id", Reason: "must not be empty"}
		}
		if item.Quantity < 1 {
			return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
		}
		if item.Quantity > MaxQuantity {
			return nil, tooMany(item.CategoryID)
		}

		if i, ok := index[item.CategoryID]; ok {
			if merged[i].Quantity+item.Quantity > MaxQuantity {
				return nil, tooMany(item.CategoryID)
			}
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.CategoryID] = len(merged)
		merged = append(merged, item)
	}

	return merged, nil
}

func tooMany(categoryID string) error {
	return &ValidationError{
		Field:  "quantity",
		Reason: fmt.Sprintf("at most %d tickets of category %s per purchase", MaxQuantity, categoryID),
	}
}

func price(event entity.Event, items []ItemRequest, promo *PromoDiscount) (Quote, error) {
	merged, err := mergeItems(items)
	if err != nil {
		return Quote{}, err
	}

	discount := decimal.Zero
	if promo != nil {
		discount = promo.Discount
	}

	quote := Quote{
		EventID:  event.EventID,
		Promo:    promo,
		Currency: event.Currency,
	}
	total := decimal.Zero
	for _, item := range merged {
		category, ok := event.Category(item.CategoryID)
		if !ok {
			return Quote{}, &ValidationError{
				Field:  "category_id",
				Reason: fmt.Sprintf("category %s does not belong to event %s", item.CategoryID, event.EventID),
			}
		}

		charged := DiscountedPrice(category.UnitPrice, discount)
		subtotal := charged.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(subtotal)

		quote.Lines = append(quote.Lines, QuoteLine{
			CategoryID:      category.CategoryID,
			Label:           category.Label,
			Quantity:        item.Quantity,
			ListPrice:       category.UnitPrice,
			ChargedPrice:    charged,
			Subtotal:        subtotal,
			AvailableTicket: category.Available(),
		})
	}
	quote.Total = entity.Money{Amount: total, Currency: event.Currency}

	return quote, nil
}
