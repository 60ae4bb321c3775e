package ticketing

import (
	"context"
	"fmt"
	"strings"

	"guestlist/entity"

	"github.com/google/uuid"
)

type EventStore interface {
	EventRepo
	Add(ctx context.Context, event entity.Event) error
	Cancel(ctx context.Context, eventID string) error
}

type PromoCodeWriter interface {
	Put(ctx context.Context, promo entity.PromoCode) error
}

type TicketLister interface {
	ListByEvent(ctx context.Context, eventID string) ([]entity.Ticket, error)
}

// CatalogService is how organizers set up what is sold: events with their
// categories, and the promo codes handed to promoters.
type CatalogService struct {
	events     EventStore
	promos     PromoCodeWriter
	tickets    TicketLister
	authorizer Authorizer
}

func NewCatalogService(events EventStore, promos PromoCodeWriter, tickets TicketLister, authorizer Authorizer) *CatalogService {
	if authorizer == nil {
		authorizer = RolePolicy{}
	}

	return &CatalogService{
		events:     events,
		promos:     promos,
		tickets:    tickets,
		authorizer: authorizer,
	}
}

func (s *CatalogService) CreateEvent(ctx context.Context, p Principal, event entity.Event) (entity.Event, error) {
	if err := s.authorizer.Authorize(p, CapabilityManageEvents, event.OrganizationID); err != nil {
		return entity.Event{}, err
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.SalesCutoff.IsZero() {
		event.SalesCutoff = event.StartTime
	}
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
	event.Canceled = false

	if err := validateEvent(event); err != nil {
		return entity.Event{}, err
	}

	for i := range event.Categories {
		event.Categories[i].EventID = event.EventID
		event.Categories[i].Sold = 0
	}

	if err := s.events.Add(ctx, event); err != nil {
		return entity.Event{}, fmt.Errorf("adding event: %w", err)
	}

	return event, nil
}

func validateEvent(event entity.Event) error {
	if _, err := uuid.Parse(event.EventID); err != nil {
		return &ValidationError{Field: "event_id", Reason: "must be a UUID"}
	}
	if strings.TrimSpace(event.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if event.StartTime.IsZero() || event.EndTime.Before(event.StartTime) {
		return &ValidationError{Field: "end_time", Reason: "must not be before start_time"}
	}
	if len(event.Currency) != 3 {
		return &ValidationError{Field: "currency", Reason: "must be an ISO 4217 code"}
	}
	if len(event.Categories) == 0 {
		return &ValidationError{Field: "categories", Reason: "at least one is required"}
	}

	seen := map[string]bool{}
	for _, c := range event.Categories {
		if strings.TrimSpace(c.CategoryID) == "" {
			return &ValidationError{Field: "category_id", Reason: "is required"}
		}
		if seen[c.CategoryID] {
			return &ValidationError{Field: "category_id", Reason: fmt.Sprintf("%s is listed twice", c.CategoryID)}
		}
		seen[c.CategoryID] = true

		if c.UnitPrice.IsNegative() {
			return &ValidationError{Field: "unit_price", Reason: "must not be negative"}
		}
	}

	return nil
}

// CancelEvent stops sales. Pending purchases are voided when their payment
// is confirmed.
func (s *CatalogService) CancelEvent(ctx context.Context, p Principal, eventID string) error {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("getting event: %w", err)
	}

	if err := s.authorizer.Authorize(p, CapabilityManageEvents, event.OrganizationID); err != nil {
		return err
	}

	if err := s.events.Cancel(ctx, eventID); err != nil {
		return fmt.Errorf("canceling event: %w", err)
	}

	return nil
}

func (s *CatalogService) PutPromoCode(ctx context.Context, p Principal, promo entity.PromoCode) (entity.PromoCode, error) {
	if err := s.authorizer.Authorize(p, CapabilityManageEvents, promo.OrganizationID); err != nil {
		return entity.PromoCode{}, err
	}

	promo.Code = NormalizePromoCode(promo.Code)
	if promo.Code == "" {
		return entity.PromoCode{}, &ValidationError{Field: "code", Reason: "is required"}
	}
	if strings.TrimSpace(promo.PromoterID) == "" {
		return entity.PromoCode{}, &ValidationError{Field: "promoter_id", Reason: "is required"}
	}
	if promo.Discount.IsNegative() {
		return entity.PromoCode{}, &ValidationError{Field: "discount", Reason: "must not be negative"}
	}

	if err := s.promos.Put(ctx, promo); err != nil {
		return entity.PromoCode{}, fmt.Errorf("putting promo code: %w", err)
	}

	return promo, nil
}

// ListTickets is the guest list of an event, as seen by the door.
func (s *CatalogService) ListTickets(ctx context.Context, p Principal, eventID string) ([]entity.Ticket, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("getting event: %w", err)
	}

	if err := s.authorizer.Authorize(p, CapabilityCheckIn, event.OrganizationID); err != nil {
		return nil, err
	}

	tickets, err := s.tickets.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}

	return tickets, nil
}
