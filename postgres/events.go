package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guestlist/entity"
	"guestlist/ticketing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func CreateEventsTables(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS events (
		event_id UUID PRIMARY KEY,
		organization_id VARCHAR(255) NOT NULL,
		title VARCHAR(255) NOT NULL,
		start_time TIMESTAMP WITH TIME ZONE NOT NULL,
		end_time TIMESTAMP WITH TIME ZONE NOT NULL,
		sales_cutoff TIMESTAMP WITH TIME ZONE NOT NULL,
		currency CHAR(3) NOT NULL,
		canceled BOOLEAN NOT NULL DEFAULT FALSE,
		CHECK (start_time <= end_time)
	);`)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ticket_categories (
		event_id UUID NOT NULL REFERENCES events (event_id),
		category_id VARCHAR(64) NOT NULL,
		label VARCHAR(255) NOT NULL,
		unit_price NUMERIC(10, 2) NOT NULL CHECK (unit_price >= 0),
		capacity INTEGER NOT NULL CHECK (capacity >= 0),
		sold INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (event_id, category_id),
		CHECK (sold >= 0 AND sold <= capacity)
	);`)
	return err
}

type EventRepo struct {
	db *sqlx.DB
}

func NewEventRepo(db *sqlx.DB) EventRepo {
	return EventRepo{
		db: db,
	}
}

// Add stores the event with its categories. It returns ErrEventExists and
// changes nothing when the event id is taken.
func (r EventRepo) Add(ctx context.Context, event entity.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := addEvent(ctx, tx, event); err != nil {
		return errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func addEvent(ctx context.Context, tx *sqlx.Tx, event entity.Event) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO events
		(event_id, organization_id, title, start_time, end_time, sales_cutoff, currency, canceled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING;`,
		event.EventID, event.OrganizationID, event.Title, event.StartTime, event.EndTime,
		event.SalesCutoff, event.Currency, event.Canceled)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", event.EventID, ticketing.ErrEventExists)
	}

	for _, c := range event.Categories {
		_, err := tx.ExecContext(ctx, `INSERT INTO ticket_categories
			(event_id, category_id, label, unit_price, capacity, sold)
			VALUES ($1, $2, $3, $4, $5, $6);`,
			event.EventID, c.CategoryID, c.Label, c.UnitPrice, c.Capacity, c.Sold)
		if err != nil {
			return fmt.Errorf("inserting category %s: %w", c.CategoryID, err)
		}
	}

	return nil
}

func (r EventRepo) Get(ctx context.Context, eventID string) (entity.Event, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return entity.Event{}, fmt.Errorf("%s: %w", eventID, ticketing.ErrEventNotFound)
	}

	var event entity.Event
	err := r.db.GetContext(ctx, &event, `SELECT
		event_id, organization_id, title, start_time, end_time, sales_cutoff, currency, canceled
		FROM events WHERE event_id = $1`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Event{}, fmt.Errorf("%s: %w", eventID, ticketing.ErrEventNotFound)
	}
	if err != nil {
		return entity.Event{}, fmt.Errorf("selecting event: %w", err)
	}

	err = r.db.SelectContext(ctx, &event.Categories, `SELECT
		event_id, category_id, label, unit_price, capacity, sold
		FROM ticket_categories WHERE event_id = $1
		ORDER BY category_id`, eventID)
	if err != nil {
		return entity.Event{}, fmt.Errorf("selecting categories: %w", err)
	}

	return event, nil
}

func (r EventRepo) Cancel(ctx context.Context, eventID string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE events SET canceled = TRUE WHERE event_id = $1", eventID)
	if err != nil {
		return fmt.Errorf("executing update query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", eventID, ticketing.ErrEventNotFound)
	}

	return nil
}
