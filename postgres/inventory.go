package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guestlist/ticketing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

func CreateReservationsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS reservations (
		token UUID PRIMARY KEY,
		holder VARCHAR(255) NOT NULL,
		event_id UUID NOT NULL,
		category_id VARCHAR(64) NOT NULL,
		reserved_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		FOREIGN KEY (event_id, category_id) REFERENCES ticket_categories (event_id, category_id)
	);`)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS reservations_holder_idx ON reservations (holder);`)
	return err
}

// InventoryRepo keeps the sold counter of every category. A reservation is
// a single conditional update, so concurrent reservations against one
// category can never push sold past capacity.
type InventoryRepo struct {
	db *sqlx.DB
}

func NewInventoryRepo(db *sqlx.DB) InventoryRepo {
	return InventoryRepo{
		db: db,
	}
}

func (r InventoryRepo) TryReserve(ctx context.Context, holder, eventID, categoryID string, quantity uint) (ticketing.Reservation, error) {
	if quantity < 1 {
		return ticketing.Reservation{}, &ticketing.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return ticketing.Reservation{}, fmt.Errorf("beginning transaction: %w", err)
	}

	reservation, err := reserve(ctx, tx, holder, eventID, categoryID, quantity)
	if err != nil {
		return ticketing.Reservation{}, errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return ticketing.Reservation{}, fmt.Errorf("committing transaction: %w", err)
	}

	return reservation, nil
}

func reserve(ctx context.Context, tx *sqlx.Tx, holder, eventID, categoryID string, quantity uint) (ticketing.Reservation, error) {
	var sold uint
	err := tx.GetContext(ctx, &sold, `UPDATE ticket_categories
		SET sold = sold + $3
		WHERE event_id = $1 AND category_id = $2 AND sold + $3 <= capacity
		RETURNING sold`, eventID, categoryID, quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return ticketing.Reservation{}, notEnoughTickets(ctx, tx, eventID, categoryID, quantity)
	}
	if err != nil {
		return ticketing.Reservation{}, fmt.Errorf("updating sold counter: %w", err)
	}

	reservation := ticketing.Reservation{
		Holder:     holder,
		EventID:    eventID,
		CategoryID: categoryID,
	}
	for i := uint(0); i < quantity; i++ {
		token := uuid.NewString()
		_, err := tx.ExecContext(ctx, `INSERT INTO reservations
			(token, holder, event_id, category_id)
			VALUES ($1, $2, $3, $4);`,
			token, holder, eventID, categoryID)
		if err != nil {
			return ticketing.Reservation{}, fmt.Errorf("inserting reservation: %w", err)
		}
		reservation.Tokens = append(reservation.Tokens, token)
	}

	return reservation, nil
}

func notEnoughTickets(ctx context.Context, tx *sqlx.Tx, eventID, categoryID string, quantity uint) error {
	var available uint
	err := tx.GetContext(ctx, &available, `SELECT capacity - sold
		FROM ticket_categories WHERE event_id = $1 AND category_id = $2`, eventID, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("category %s of event %s: %w", categoryID, eventID, ticketing.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("counting tickets available: %w", err)
	}

	return &ticketing.OutOfCapacityError{
		CategoryID: categoryID,
		Available:  available,
		Requested:  quantity,
	}
}

// Release returns reserved units to their categories. Tokens that were
// already released are ignored.
func (r InventoryRepo) Release(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	err = release(ctx, tx, "token = ANY($1::uuid[])", pq.Array(tokens))
	if err != nil {
		return errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// ReleaseHeld returns every unit reserved for holder.
func (r InventoryRepo) ReleaseHeld(ctx context.Context, holder string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := release(ctx, tx, "holder = $1", holder); err != nil {
		return errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// release deletes the reservations matching where and returns their units.
func release(ctx context.Context, tx *sqlx.Tx, where string, arg any) error {
	var released []struct {
		EventID    string `db:"event_id"`
		CategoryID string `db:"category_id"`
		Units      uint   `db:"units"`
	}
	err := tx.SelectContext(ctx, &released, `WITH deleted AS (
			DELETE FROM reservations WHERE `+where+`
			RETURNING event_id, category_id
		)
		SELECT event_id, category_id, COUNT(*) AS units
		FROM deleted GROUP BY event_id, category_id`, arg)
	if err != nil {
		return fmt.Errorf("deleting reservations: %w", err)
	}

	for _, r := range released {
		_, err := tx.ExecContext(ctx, `UPDATE ticket_categories
			SET sold = GREATEST(sold - $3, 0)
			WHERE event_id = $1 AND category_id = $2`,
			r.EventID, r.CategoryID, r.Units)
		if err != nil {
			return fmt.Errorf("updating sold counter: %w", err)
		}
	}

	return nil
}
