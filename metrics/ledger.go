package metrics

import (
	"context"

	"guestlist/ticketing"
)

// Ledger counts reservations made through the wrapped ledger.
type Ledger struct {
	next ticketing.InventoryLedger
}

func InstrumentLedger(next ticketing.InventoryLedger) Ledger {
	return Ledger{next: next}
}

func (l Ledger) TryReserve(ctx context.Context, holder, eventID, categoryID string, quantity uint) (ticketing.Reservation, error) {
	r, err := l.next.TryReserve(ctx, holder, eventID, categoryID, quantity)

	reservations.WithLabelValues(Outcome(err)).Inc()
	if err == nil {
		reservedUnits.WithLabelValues("reserve").Add(float64(len(r.Tokens)))
	}

	return r, err
}

func (l Ledger) Release(ctx context.Context, tokens ...string) error {
	err := l.next.Release(ctx, tokens...)
	if err == nil {
		reservedUnits.WithLabelValues("release").Add(float64(len(tokens)))
	}

	return err
}

func (l Ledger) ReleaseHeld(ctx context.Context, holder string) error {
	return l.next.ReleaseHeld(ctx, holder)
}
