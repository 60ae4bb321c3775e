package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guestlist/entity"
	"guestlist/ticketing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func CreatePromoCodesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS promo_codes (
		organization_id VARCHAR(255) NOT NULL,
		code VARCHAR(64) NOT NULL,
		promoter_id VARCHAR(255) NOT NULL,
		discount NUMERIC(10, 2) NOT NULL CHECK (discount >= 0),
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (organization_id, code)
	);`)
	return err
}

type PromoCodeRepo struct {
	db *sqlx.DB
}

func NewPromoCodeRepo(db *sqlx.DB) PromoCodeRepo {
	return PromoCodeRepo{
		db: db,
	}
}

// Put creates the code or replaces the promoter, discount and disabled flag of
// an existing one.
func (r PromoCodeRepo) Put(ctx context.Context, promo entity.PromoCode) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO promo_codes
		(organization_id, code, promoter_id, discount, disabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, code) DO UPDATE SET
			promoter_id = EXCLUDED.promoter_id,
			discount = EXCLUDED.discount,
			disabled = EXCLUDED.disabled;`,
		promo.OrganizationID, promo.Code, promo.PromoterID, promo.Discount, promo.Disabled)
	if err != nil {
		return fmt.Errorf("upserting promo code: %w", err)
	}

	return nil
}

func (r PromoCodeRepo) GetByCode(ctx context.Context, organizationID, code string) (entity.PromoCode, error) {
	var promo entity.PromoCode
	err := r.db.GetContext(ctx, &promo, `SELECT
		organization_id, code, promoter_id, discount, disabled
		FROM promo_codes WHERE organization_id = $1 AND code = $2`, organizationID, code)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.PromoCode{}, fmt.Errorf("%q: %w", code, ticketing.ErrPromoCodeNotFound)
	}
	if err != nil {
		return entity.PromoCode{}, fmt.Errorf("selecting promo code: %w", err)
	}

	return promo, nil
}
