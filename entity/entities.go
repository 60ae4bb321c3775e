package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

type Event struct {
	EventID        string           `json:"event_id" db:"event_id"`
	OrganizationID string           `json:"organization_id" db:"organization_id"`
	Title          string           `json:"title" db:"title"`
	StartTime      time.Time        `json:"start_time" db:"start_time"`
	EndTime        time.Time        `json:"end_time" db:"end_time"`
	SalesCutoff    time.Time        `json:"sales_cutoff" db:"sales_cutoff"`
	Currency       string           `json:"currency" db:"currency"`
	Canceled       bool             `json:"canceled" db:"canceled"`
	Categories     []TicketCategory `json:"categories" db:"-"`
}

func (e Event) Category(categoryID string) (TicketCategory, bool) {
	for _, c := range e.Categories {
		if c.CategoryID == categoryID {
			return c, true
		}
	}
	return TicketCategory{}, false
}

// TicketCategory is a priced tier of an event. Sold never exceeds Capacity.
type TicketCategory struct {
	CategoryID string          `json:"category_id" db:"category_id"`
	EventID    string          `json:"event_id" db:"event_id"`
	Label      string          `json:"label" db:"label"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	Capacity   uint            `json:"capacity" db:"capacity"`
	Sold       uint            `json:"sold" db:"sold"`
}

func (c TicketCategory) Available() uint {
	if c.Sold >= c.Capacity {
		return 0
	}
	return c.Capacity - c.Sold
}

type PromoCode struct {
	Code           string          `json:"code" db:"code"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	PromoterID     string          `json:"promoter_id" db:"promoter_id"`
	Discount       decimal.Decimal `json:"discount" db:"discount"`
	Disabled       bool            `json:"disabled" db:"disabled"`
}

type TicketStatus string

const (
	TicketStatusIssued    TicketStatus = "issued"
	TicketStatusCheckedIn TicketStatus = "checked_in"
)

type Ticket struct {
	TicketID        string     `json:"ticket_id" db:"ticket_id"`
	Code            string     `json:"code" db:"code"`
	EventID         string     `json:"event_id" db:"event_id"`
	CategoryID      string     `json:"category_id" db:"category_id"`
	CustomerEmail   string     `json:"customer_email" db:"customer_email"`
	PromoterID      *string    `json:"promoter_id,omitempty" db:"promoter_id"`
	AuthorizationID string     `json:"authorization_id" db:"authorization_id"`
	Price           Money      `json:"price" db:"-"`
	IssuedAt        time.Time  `json:"issued_at" db:"issued_at"`
	CheckedInAt     *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
}

func (t Ticket) Status() TicketStatus {
	if t.CheckedInAt != nil {
		return TicketStatusCheckedIn
	}
	return TicketStatusIssued
}

type AttemptStatus string

const (
	AttemptStatusPending  AttemptStatus = "pending"
	AttemptStatusIssuing  AttemptStatus = "issuing"
	AttemptStatusIssued   AttemptStatus = "issued"
	AttemptStatusDeclined AttemptStatus = "declined"
	AttemptStatusVoided   AttemptStatus = "voided"
)

// LineItem is one category of a purchase. UnitPrice is the charged price per
// ticket, after any promo discount.
type LineItem struct {
	CategoryID string          `json:"category_id"`
	Quantity   uint            `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// PurchaseAttempt binds one payment authorization to the tickets it produces.
type PurchaseAttempt struct {
	AuthorizationID string        `json:"authorization_id"`
	IdempotencyKey  string        `json:"idempotency_key"`
	EventID         string        `json:"event_id"`
	Items           []LineItem    `json:"items"`
	PromoterID      *string       `json:"promoter_id,omitempty"`
	CustomerEmail   string        `json:"customer_email"`
	Total           Money         `json:"total"`
	Status          AttemptStatus `json:"status"`
	VoidReason      string        `json:"void_reason,omitempty"`
	Available       uint          `json:"available"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type PromoUsage struct {
	EventID    string `json:"event_id" db:"event_id"`
	PromoterID string `json:"promoter_id" db:"promoter_id"`
	CategoryID string `json:"category_id" db:"category_id"`
	Count      uint   `json:"count" db:"redemptions"`
}
