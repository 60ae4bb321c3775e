package ticketing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guestlist/entity"
)

type CheckInStatus string

const (
	CheckInStatusCheckedIn        CheckInStatus = "checked_in"
	CheckInStatusAlreadyCheckedIn CheckInStatus = "already_checked_in"
)

// CheckInResult is returned for both a fresh check-in and a rescan. A rescan
// is not an error: CheckedInAt then carries the time of the first scan.
type CheckInResult struct {
	Status      CheckInStatus `json:"status"`
	Ticket      entity.Ticket `json:"ticket"`
	CheckedInAt time.Time     `json:"checked_in_at"`
}

type CheckInService struct {
	events     EventRepo
	tickets    TicketRepo
	authorizer Authorizer
}

func NewCheckInService(events EventRepo, tickets TicketRepo, authorizer Authorizer) *CheckInService {
	if authorizer == nil {
		authorizer = RolePolicy{}
	}

	return &CheckInService{
		events:     events,
		tickets:    tickets,
		authorizer: authorizer,
	}
}

func (s *CheckInService) CheckIn(ctx context.Context, p Principal, code string, now time.Time) (CheckInResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CheckInResult{}, &ValidationError{Field: "code", Reason: "must not be empty"}
	}

	ticket, err := s.tickets.GetByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return CheckInResult{}, fmt.Errorf("%q: %w", code, ErrTicketNotFound)
	}
	if err != nil {
		return CheckInResult{}, fmt.Errorf("getting ticket: %w", err)
	}

	event, err := s.events.Get(ctx, ticket.EventID)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("getting event: %w", err)
	}

	if err := s.authorizer.Authorize(p, CapabilityCheckIn, event.OrganizationID); err != nil {
		return CheckInResult{}, err
	}

	if now.Before(event.StartTime) || now.After(event.EndTime) {
		return CheckInResult{}, &OutOfWindowError{Start: event.StartTime, End: event.EndTime}
	}

	if ticket.CheckedInAt != nil {
		return CheckInResult{
			Status:      CheckInStatusAlreadyCheckedIn,
			Ticket:      ticket,
			CheckedInAt: *ticket.CheckedInAt,
		}, nil
	}

	checkedInAt, won, err := s.tickets.CheckIn(ctx, ticket.TicketID, now)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("checking in ticket: %w", err)
	}
	ticket.CheckedInAt = &checkedInAt

	status := CheckInStatusCheckedIn
	if !won {
		status = CheckInStatusAlreadyCheckedIn
	}

	return CheckInResult{
		Status:      status,
		Ticket:      ticket,
		CheckedInAt: checkedInAt,
	}, nil
}
