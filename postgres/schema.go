package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func InitialiseDB(ctx context.Context, db *sqlx.DB) error {
	if err := CreateEventsTables(ctx, db); err != nil {
		return fmt.Errorf("creating events tables: %w", err)
	}

	if err := CreateReservationsTable(ctx, db); err != nil {
		return fmt.Errorf("creating reservations table: %w", err)
	}

	if err := CreatePromoCodesTable(ctx, db); err != nil {
		return fmt.Errorf("creating promo codes table: %w", err)
	}

	if err := CreatePurchaseAttemptsTable(ctx, db); err != nil {
		return fmt.Errorf("creating purchase attempts table: %w", err)
	}

	if err := CreateTicketsTable(ctx, db); err != nil {
		return fmt.Errorf("creating tickets table: %w", err)
	}

	if err := CreatePromoUsageTable(ctx, db); err != nil {
		return fmt.Errorf("creating promo usage table: %w", err)
	}

	return nil
}
