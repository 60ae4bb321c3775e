package ticketing

import (
	"context"
	"time"

	"guestlist/entity"
)

type EventRepo interface {
	Get(ctx context.Context, eventID string) (entity.Event, error)
}

type PromoCodeRepo interface {
	GetByCode(ctx context.Context, organizationID, code string) (entity.PromoCode, error)
}

// Reservation is a grant of len(Tokens) units against one category, held by
// the purchase that asked for it.
type Reservation struct {
	Holder     string   `json:"holder"`
	EventID    string   `json:"event_id"`
	CategoryID string   `json:"category_id"`
	Tokens     []string `json:"tokens"`
}

// InventoryLedger grants units atomically per category: either every
// requested unit is reserved or none is. Units stay held until they are
// released or turned into tickets.
type InventoryLedger interface {
	TryReserve(ctx context.Context, holder, eventID, categoryID string, quantity uint) (Reservation, error)
	Release(ctx context.Context, tokens ...string) error
	// ReleaseHeld returns every unit holder still holds.
	ReleaseHeld(ctx context.Context, holder string) error
}

type AuthorizationRequest struct {
	Amount         entity.Money
	PaymentMethod  string
	IdempotencyKey string
}

// PaymentProcessor returns *PaymentDeclinedError for declines. Any other error
// is treated as transient.
type PaymentProcessor interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (string, error)
	Confirm(ctx context.Context, authorizationID string) error
	Void(ctx context.Context, authorizationID string) error
}

// VoidScheduler voids an authorization asynchronously. It covers
// authorizations that never got a purchase attempt stored.
type VoidScheduler interface {
	ScheduleVoid(ctx context.Context, authorizationID, reason string) error
}

// AttemptRepo stores purchase attempts. An issuing attempt is claimed by
// whoever moved it to issuing last, and the attempt returned by that move is
// the claim. Its UpdatedAt tells claims apart.
type AttemptRepo interface {
	// Create stores the attempt unless one with the same authorization id
	// exists, and returns the stored attempt either way.
	Create(ctx context.Context, attempt entity.PurchaseAttempt) (entity.PurchaseAttempt, error)
	Get(ctx context.Context, authorizationID string) (entity.PurchaseAttempt, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (entity.PurchaseAttempt, error)
	// Transition moves the attempt from one status to another only if it is
	// still in the from status. It reports whether this call made the move and
	// returns the attempt as stored after the call.
	Transition(ctx context.Context, authorizationID string, from, to entity.AttemptStatus) (entity.PurchaseAttempt, bool, error)
	// Reclaim takes over an issuing attempt that nobody has touched for
	// longer than lease. It reports whether this call took it over.
	Reclaim(ctx context.Context, authorizationID string, lease time.Duration) (entity.PurchaseAttempt, bool, error)
	// Unclaim hands an issuing attempt back to pending. It does nothing once
	// the claim was taken over.
	Unclaim(ctx context.Context, claim entity.PurchaseAttempt) error
	// MarkVoided settles a claimed attempt as voided and queues the void of
	// its authorization in the same write. It returns ErrClaimLost once the
	// claim was taken over.
	MarkVoided(ctx context.Context, claim entity.PurchaseAttempt, reason string, available uint) error
}

type TicketRepo interface {
	// AddIssued stores the tickets and marks the claimed attempt issued
	// atomically. It returns ErrClaimLost once the claim was taken over.
	AddIssued(ctx context.Context, claim entity.PurchaseAttempt, tickets []entity.Ticket) error
	ListByAuthorization(ctx context.Context, authorizationID string) ([]entity.Ticket, error)
	GetByCode(ctx context.Context, code string) (entity.Ticket, error)
	// CheckIn sets the check-in time if it is still unset. It returns the
	// stored check-in time and whether this call set it.
	CheckIn(ctx context.Context, ticketID string, at time.Time) (time.Time, bool, error)
}

type UsageRecorder interface {
	Increment(ctx context.Context, eventID, promoterID, categoryID string) error
}

type UsageStore interface {
	UsageRecorder
	GetUsage(ctx context.Context, eventID string, promoterID *string) ([]entity.PromoUsage, error)
	Recompute(ctx context.Context, eventID string) error
}
