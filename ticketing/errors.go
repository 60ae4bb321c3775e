package ticketing

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrPurchaseInProgress = errors.New("purchase is already being issued")
	ErrDuplicateCode      = errors.New("ticket code already taken")
	ErrEventExists        = errors.New("event already exists")
	ErrIdempotencyKeyUsed = errors.New("idempotency key was used for a different purchase")

	ErrEventNotFound     = fmt.Errorf("event %w", ErrNotFound)
	ErrPromoCodeNotFound = fmt.Errorf("promo code %w", ErrNotFound)
	ErrTicketNotFound    = fmt.Errorf("ticket %w", ErrNotFound)
	ErrAttemptNotFound   = fmt.Errorf("purchase attempt %w", ErrNotFound)

	// ErrClaimLost is returned for writes under a claim another caller has
	// since taken over.
	ErrClaimLost = fmt.Errorf("purchase attempt was reclaimed: %w", ErrPurchaseInProgress)
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type SalesClosedError struct {
	Cutoff time.Time
}

func (e *SalesClosedError) Error() string {
	return fmt.Sprintf("ticket sales closed at %s", e.Cutoff.Format(time.RFC3339))
}

type OutOfCapacityError struct {
	CategoryID string
	Available  uint
	Requested  uint
}

func (e *OutOfCapacityError) Error() string {
	return fmt.Sprintf("not enough tickets in category %s: tickets available %d, tickets requested %d",
		e.CategoryID, e.Available, e.Requested)
}

type PaymentDeclinedError struct {
	Reason string
}

func (e *PaymentDeclinedError) Error() string {
	if e.Reason == "" {
		return "payment declined"
	}
	return "payment declined: " + e.Reason
}

// PaymentProcessorError is a transient processor failure. The purchase can be
// retried with the same idempotency key.
type PaymentProcessorError struct {
	Err error
}

func (e *PaymentProcessorError) Error() string {
	return fmt.Sprintf("payment processor: %v", e.Err)
}

func (e *PaymentProcessorError) Unwrap() error {
	return e.Err
}

type OutOfWindowError struct {
	Start time.Time
	End   time.Time
}

func (e *OutOfWindowError) Error() string {
	return fmt.Sprintf("check-in is open from %s to %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}
