package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"guestlist/entity"
	"guestlist/event"
	"guestlist/message"
	"guestlist/ticketing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

func CreateTicketsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tickets (
		ticket_id UUID PRIMARY KEY,
		code VARCHAR(32) NOT NULL,
		event_id UUID NOT NULL REFERENCES events (event_id),
		category_id VARCHAR(64) NOT NULL,
		customer_email VARCHAR(255) NOT NULL,
		promoter_id VARCHAR(255),
		authorization_id VARCHAR(255) NOT NULL REFERENCES purchase_attempts (authorization_id),
		price_amount NUMERIC(10, 2) NOT NULL,
		price_currency CHAR(3) NOT NULL,
		issued_at TIMESTAMP WITH TIME ZONE NOT NULL,
		checked_in_at TIMESTAMP WITH TIME ZONE,
		CONSTRAINT tickets_code_key UNIQUE (code)
	);`)
	return err
}

const ticketColumns = `ticket_id, code, event_id, category_id, customer_email, promoter_id,
	authorization_id, price_amount, price_currency, issued_at, checked_in_at`

type ticketRow struct {
	entity.Ticket
	PriceAmount   decimal.Decimal `db:"price_amount"`
	PriceCurrency string          `db:"price_currency"`
}

func (r ticketRow) toEntity() entity.Ticket {
	t := r.Ticket
	t.Price = entity.Money{
		Amount:   r.PriceAmount,
		Currency: r.PriceCurrency,
	}
	return t
}

type TicketRepo struct {
	db     *sqlx.DB
	logger watermill.LoggerAdapter
}

func NewTicketRepo(db *sqlx.DB, logger watermill.LoggerAdapter) TicketRepo {
	return TicketRepo{
		db:     db,
		logger: logger,
	}
}

// AddIssued stores the tickets, marks the claimed purchase attempt issued and
// publishes TicketIssued for each ticket, all in one transaction.
func (r TicketRepo) AddIssued(ctx context.Context, claim entity.PurchaseAttempt, tickets []entity.Ticket) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := r.addIssued(ctx, tx, claim, tickets); err != nil {
		return errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (r TicketRepo) addIssued(ctx context.Context, tx *sqlx.Tx, claim entity.PurchaseAttempt, tickets []entity.Ticket) error {
	res, err := tx.ExecContext(ctx, `UPDATE purchase_attempts
		SET status = $4, updated_at = now()
		WHERE authorization_id = $1 AND status = $2 AND updated_at = $3`,
		claim.AuthorizationID, string(entity.AttemptStatusIssuing), claim.UpdatedAt, string(entity.AttemptStatusIssued))
	if err != nil {
		return fmt.Errorf("updating purchase attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", claim.AuthorizationID, ticketing.ErrClaimLost)
	}

	for _, t := range tickets {
		_, err := tx.ExecContext(ctx, `INSERT INTO tickets
			(ticket_id, code, event_id, category_id, customer_email, promoter_id,
			authorization_id, price_amount, price_currency, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`,
			t.TicketID, t.Code, t.EventID, t.CategoryID, t.CustomerEmail, t.PromoterID,
			t.AuthorizationID, t.Price.Amount, t.Price.Currency, t.IssuedAt)

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "tickets_code_key" {
			return fmt.Errorf("%s: %w", t.Code, ticketing.ErrDuplicateCode)
		}
		if err != nil {
			return fmt.Errorf("inserting ticket: %w", err)
		}
	}

	issued := make([]any, 0, len(tickets))
	for _, t := range tickets {
		issued = append(issued, event.NewTicketIssued(t))
	}
	if err := message.PublishInTx(ctx, tx.Tx, r.logger, issued...); err != nil {
		return err
	}

	return nil
}

func (r TicketRepo) ListByAuthorization(ctx context.Context, authorizationID string) ([]entity.Ticket, error) {
	return r.list(ctx, "authorization_id", authorizationID)
}

func (r TicketRepo) ListByEvent(ctx context.Context, eventID string) ([]entity.Ticket, error) {
	return r.list(ctx, "event_id", eventID)
}

func (r TicketRepo) list(ctx context.Context, column, value string) ([]entity.Ticket, error) {
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+ticketColumns+`
		FROM tickets WHERE `+column+` = $1
		ORDER BY issued_at, category_id, code`, value)
	if err != nil {
		return nil, fmt.Errorf("selecting tickets: %w", err)
	}

	tickets := make([]entity.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.toEntity())
	}

	return tickets, nil
}

func (r TicketRepo) GetByCode(ctx context.Context, code string) (entity.Ticket, error) {
	var row ticketRow
	err := r.db.GetContext(ctx, &row, `SELECT `+ticketColumns+`
		FROM tickets WHERE code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Ticket{}, fmt.Errorf("%q: %w", code, ticketing.ErrTicketNotFound)
	}
	if err != nil {
		return entity.Ticket{}, fmt.Errorf("selecting ticket: %w", err)
	}

	return row.toEntity(), nil
}

// CheckIn sets checked_in_at only while it is still null. Of concurrent
// callers exactly one wins; the others get the winner's time back.
func (r TicketRepo) CheckIn(ctx context.Context, ticketID string, at time.Time) (time.Time, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("beginning transaction: %w", err)
	}

	checkedInAt, won, err := r.checkIn(ctx, tx, ticketID, at)
	if err != nil {
		return time.Time{}, false, errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, false, fmt.Errorf("committing transaction: %w", err)
	}

	return checkedInAt, won, nil
}

func (r TicketRepo) checkIn(ctx context.Context, tx *sqlx.Tx, ticketID string, at time.Time) (time.Time, bool, error) {
	var updated struct {
		EventID     string    `db:"event_id"`
		CheckedInAt time.Time `db:"checked_in_at"`
	}
	err := tx.GetContext(ctx, &updated, `UPDATE tickets
		SET checked_in_at = $2
		WHERE ticket_id = $1 AND checked_in_at IS NULL
		RETURNING event_id, checked_in_at`, ticketID, at)
	if errors.Is(err, sql.ErrNoRows) {
		var checkedInAt sql.NullTime
		err := tx.GetContext(ctx, &checkedInAt, `SELECT checked_in_at FROM tickets WHERE ticket_id = $1`, ticketID)
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, fmt.Errorf("%s: %w", ticketID, ticketing.ErrTicketNotFound)
		}
		if err != nil {
			return time.Time{}, false, fmt.Errorf("selecting check-in time: %w", err)
		}
		return checkedInAt.Time, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("updating check-in time: %w", err)
	}

	e := event.NewTicketCheckedIn(ticketID, updated.EventID, updated.CheckedInAt)
	if err := message.PublishInTx(ctx, tx.Tx, r.logger, e); err != nil {
		return time.Time{}, false, err
	}

	return updated.CheckedInAt, true, nil
}
