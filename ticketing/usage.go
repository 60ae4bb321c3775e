package ticketing

import (
	"context"
	"fmt"

	"guestlist/entity"
)

// UsageService is the read side of promo usage. Counters are derived from
// issued tickets and can always be rebuilt with Recompute.
type UsageService struct {
	events     EventRepo
	store      UsageStore
	authorizer Authorizer
}

func NewUsageService(events EventRepo, store UsageStore, authorizer Authorizer) *UsageService {
	if authorizer == nil {
		authorizer = RolePolicy{}
	}

	return &UsageService{
		events:     events,
		store:      store,
		authorizer: authorizer,
	}
}

// GetUsage returns counts per promoter and category. Promoters only ever see
// their own counters.
func (s *UsageService) GetUsage(ctx context.Context, p Principal, eventID string, promoterID *string) ([]entity.PromoUsage, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("getting event: %w", err)
	}

	if err := s.authorizer.Authorize(p, CapabilityViewUsage, event.OrganizationID); err != nil {
		return nil, err
	}

	if p.Role == RolePromoter {
		own := p.UserID
		promoterID = &own
	}

	usage, err := s.store.GetUsage(ctx, eventID, promoterID)
	if err != nil {
		return nil, fmt.Errorf("getting promo usage: %w", err)
	}

	return usage, nil
}

func (s *UsageService) Recompute(ctx context.Context, p Principal, eventID string) error {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("getting event: %w", err)
	}

	if err := s.authorizer.Authorize(p, CapabilityManageEvents, event.OrganizationID); err != nil {
		return err
	}

	if err := s.store.Recompute(ctx, eventID); err != nil {
		return fmt.Errorf("recomputing promo usage: %w", err)
	}

	return nil
}
