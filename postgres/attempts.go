package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"guestlist/command"
	"guestlist/entity"
	"guestlist/event"
	"guestlist/message"
	"guestlist/ticketing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func CreatePurchaseAttemptsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS purchase_attempts (
		authorization_id VARCHAR(255) PRIMARY KEY,
		idempotency_key VARCHAR(255) NOT NULL UNIQUE,
		event_id UUID NOT NULL REFERENCES events (event_id),
		items JSONB NOT NULL,
		promoter_id VARCHAR(255),
		customer_email VARCHAR(255) NOT NULL,
		total_amount NUMERIC(10, 2) NOT NULL,
		total_currency CHAR(3) NOT NULL,
		status VARCHAR(16) NOT NULL,
		void_reason VARCHAR(64) NOT NULL DEFAULT '',
		available INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);`)
	return err
}

const attemptColumns = `authorization_id, idempotency_key, event_id, items, promoter_id, customer_email,
	total_amount, total_currency, status, void_reason, available, created_at, updated_at`

type attemptRow struct {
	AuthorizationID string          `db:"authorization_id"`
	IdempotencyKey  string          `db:"idempotency_key"`
	EventID         string          `db:"event_id"`
	Items           []byte          `db:"items"`
	PromoterID      *string         `db:"promoter_id"`
	CustomerEmail   string          `db:"customer_email"`
	TotalAmount     decimal.Decimal `db:"total_amount"`
	TotalCurrency   string          `db:"total_currency"`
	Status          string          `db:"status"`
	VoidReason      string          `db:"void_reason"`
	Available       uint            `db:"available"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r attemptRow) toEntity() (entity.PurchaseAttempt, error) {
	var items []entity.LineItem
	if err := json.Unmarshal(r.Items, &items); err != nil {
		return entity.PurchaseAttempt{}, fmt.Errorf("unmarshalling items of %s: %w", r.AuthorizationID, err)
	}

	return entity.PurchaseAttempt{
		AuthorizationID: r.AuthorizationID,
		IdempotencyKey:  r.IdempotencyKey,
		EventID:         r.EventID,
		Items:           items,
		PromoterID:      r.PromoterID,
		CustomerEmail:   r.CustomerEmail,
		Total: entity.Money{
			Amount:   r.TotalAmount,
			Currency: r.TotalCurrency,
		},
		Status:     entity.AttemptStatus(r.Status),
		VoidReason: r.VoidReason,
		Available:  r.Available,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

type AttemptRepo struct {
	db     *sqlx.DB
	logger watermill.LoggerAdapter
}

func NewAttemptRepo(db *sqlx.DB, logger watermill.LoggerAdapter) AttemptRepo {
	return AttemptRepo{
		db:     db,
		logger: logger,
	}
}

func (r AttemptRepo) Create(ctx context.Context, attempt entity.PurchaseAttempt) (entity.PurchaseAttempt, error) {
	items, err := json.Marshal(attempt.Items)
	if err != nil {
		return entity.PurchaseAttempt{}, fmt.Errorf("marshalling items: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO purchase_attempts
		(`+attemptColumns+`)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (authorization_id) DO NOTHING;`,
		attempt.AuthorizationID, attempt.IdempotencyKey, attempt.EventID, string(items), attempt.PromoterID,
		attempt.CustomerEmail, attempt.Total.Amount, attempt.Total.Currency, string(attempt.Status),
		attempt.VoidReason, attempt.Available, attempt.CreatedAt, attempt.UpdatedAt)
	if err != nil {
		return entity.PurchaseAttempt{}, fmt.Errorf("inserting purchase attempt: %w", err)
	}

	return r.Get(ctx, attempt.AuthorizationID)
}

func (r AttemptRepo) Get(ctx context.Context, authorizationID string) (entity.PurchaseAttempt, error) {
	return r.getBy(ctx, "authorization_id", authorizationID)
}

func (r AttemptRepo) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (entity.PurchaseAttempt, error) {
	return r.getBy(ctx, "idempotency_key", idempotencyKey)
}

func (r AttemptRepo) getBy(ctx context.Context, column, value string) (entity.PurchaseAttempt, error) {
	var row attemptRow
	err := r.db.GetContext(ctx, &row, `SELECT `+attemptColumns+`
		FROM purchase_attempts WHERE `+column+` = $1`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.PurchaseAttempt{}, fmt.Errorf("%s: %w", value, ticketing.ErrAttemptNotFound)
	}
	if err != nil {
		return entity.PurchaseAttempt{}, fmt.Errorf("selecting purchase attempt: %w", err)
	}

	return row.toEntity()
}

func (r AttemptRepo) Transition(ctx context.Context, authorizationID string, from, to entity.AttemptStatus) (entity.PurchaseAttempt, bool, error) {
	var row attemptRow
	err := r.db.GetContext(ctx, &row, `UPDATE purchase_attempts
		SET status = $3, updated_at = now()
		WHERE authorization_id = $1 AND status = $2
		RETURNING `+attemptColumns, authorizationID, string(from), string(to))
	if errors.Is(err, sql.ErrNoRows) {
		attempt, err := r.Get(ctx, authorizationID)
		return attempt, false, err
	}
	if err != nil {
		return entity.PurchaseAttempt{}, false, fmt.Errorf("updating purchase attempt status: %w", err)
	}

	attempt, err := row.toEntity()
	return attempt, err == nil, err
}

// Reclaim claims an issuing attempt anew once its updated_at is older than
// lease, measured by the database clock.
func (r AttemptRepo) Reclaim(ctx context.Context, authorizationID string, lease time.Duration) (entity.PurchaseAttempt, bool, error) {
	var row attemptRow
	err := r.db.GetContext(ctx, &row, `UPDATE purchase_attempts
		SET updated_at = now()
		WHERE authorization_id = $1 AND status = $2
			AND updated_at < now() - make_interval(secs => $3::double precision)
		RETURNING `+attemptColumns, authorizationID, string(entity.AttemptStatusIssuing), lease.Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		attempt, err := r.Get(ctx, authorizationID)
		return attempt, false, err
	}
	if err != nil {
		return entity.PurchaseAttempt{}, false, fmt.Errorf("reclaiming purchase attempt: %w", err)
	}

	attempt, err := row.toEntity()
	return attempt, err == nil, err
}

func (r AttemptRepo) Unclaim(ctx context.Context, claim entity.PurchaseAttempt) error {
	_, err := r.db.ExecContext(ctx, `UPDATE purchase_attempts
		SET status = $4, updated_at = now()
		WHERE authorization_id = $1 AND status = $2 AND updated_at = $3`,
		claim.AuthorizationID, string(entity.AttemptStatusIssuing), claim.UpdatedAt, string(entity.AttemptStatusPending))
	if err != nil {
		return fmt.Errorf("updating purchase attempt status: %w", err)
	}

	return nil
}

// MarkVoided stores the voided attempt together with PurchaseVoided and a
// VoidPayment command for its authorization.
func (r AttemptRepo) MarkVoided(ctx context.Context, claim entity.PurchaseAttempt, reason string, available uint) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := r.markVoided(ctx, tx, claim, reason, available); err != nil {
		return errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (r AttemptRepo) markVoided(ctx context.Context, tx *sqlx.Tx, claim entity.PurchaseAttempt, reason string, available uint) error {
	res, err := tx.ExecContext(ctx, `UPDATE purchase_attempts
		SET status = $4, void_reason = $5, available = $6, updated_at = now()
		WHERE authorization_id = $1 AND status = $2 AND updated_at = $3`,
		claim.AuthorizationID, string(entity.AttemptStatusIssuing), claim.UpdatedAt,
		string(entity.AttemptStatusVoided), reason, available)
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

	e := event.NewPurchaseVoided(claim.AuthorizationID, claim.EventID, reason)
	if err := message.PublishInTx(ctx, tx.Tx, r.logger, e); err != nil {
		return err
	}

	return message.SendInTx(ctx, tx.Tx, r.logger, command.NewVoidPayment(claim.AuthorizationID, reason))
}
