package postgres

import (
	"context"
	"errors"
	"fmt"

	"guestlist/entity"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func CreatePromoUsageTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS promo_usage (
		event_id UUID NOT NULL,
		promoter_id VARCHAR(255) NOT NULL,
		category_id VARCHAR(64) NOT NULL,
		redemptions INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (event_id, promoter_id, category_id)
	);`)
	return err
}

// PromoUsageRepo holds redemption counters derived from issued tickets.
type PromoUsageRepo struct {
	db *sqlx.DB
}

func NewPromoUsageRepo(db *sqlx.DB) PromoUsageRepo {
	return PromoUsageRepo{
		db: db,
	}
}

func (r PromoUsageRepo) Increment(ctx context.Context, eventID, promoterID, categoryID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO promo_usage
		(event_id, promoter_id, category_id, redemptions)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (event_id, promoter_id, category_id)
		DO UPDATE SET redemptions = promo_usage.redemptions + 1;`,
		eventID, promoterID, categoryID)
	if err != nil {
		return fmt.Errorf("incrementing promo usage: %w", err)
	}

	return nil
}

func (r PromoUsageRepo) GetUsage(ctx context.Context, eventID string, promoterID *string) ([]entity.PromoUsage, error) {
	usage := []entity.PromoUsage{}
	err := r.db.SelectContext(ctx, &usage, `SELECT event_id, promoter_id, category_id, redemptions
		FROM promo_usage
		WHERE event_id = $1 AND ($2::varchar IS NULL OR promoter_id = $2)
		ORDER BY promoter_id, category_id`, eventID, promoterID)
	if err != nil {
		return nil, fmt.Errorf("selecting promo usage: %w", err)
	}

	return usage, nil
}

// Recompute rebuilds the counters of one event from its tickets.
func (r PromoUsageRepo) Recompute(ctx context.Context, eventID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := recompute(ctx, tx, eventID); err != nil {
		return errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func recompute(ctx context.Context, tx *sqlx.Tx, eventID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM promo_usage WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("deleting promo usage: %w", err)
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO promo_usage
		(event_id, promoter_id, category_id, redemptions)
		SELECT event_id, promoter_id, category_id, COUNT(*)
		FROM tickets
		WHERE event_id = $1 AND promoter_id IS NOT NULL
		GROUP BY event_id, promoter_id, category_id`, eventID)
	if err != nil {
		return fmt.Errorf("counting promo usage: %w", err)
	}

	return nil
}
