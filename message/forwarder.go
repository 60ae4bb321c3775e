package message

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	watermillSQL "github.com/ThreeDotsLabs/watermill-sql/v2/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/components/forwarder"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

const outboxTopic = "guestlist_outbox"

// Forwarder moves events written to the Postgres outbox in the same
// transaction as the state change onto Redis streams.
type Forwarder struct {
	*forwarder.Forwarder
}

func newOutboxSubscriber(db *sqlx.DB, logger watermill.LoggerAdapter) (*watermillSQL.Subscriber, error) {
	subscriber, err := watermillSQL.NewSubscriber(db, watermillSQL.SubscriberConfig{
		SchemaAdapter:  watermillSQL.DefaultPostgreSQLSchema{},
		OffsetsAdapter: watermillSQL.DefaultPostgreSQLOffsetsAdapter{},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating outbox subscriber: %w", err)
	}
	if err := subscriber.SubscribeInitialize(outboxTopic); err != nil {
		return nil, fmt.Errorf("creating outbox tables: %w", err)
	}

	return subscriber, nil
}

// InitializeOutbox creates the outbox tables. Publishing in a transaction
// fails until they exist.
func InitializeOutbox(db *sqlx.DB, logger watermill.LoggerAdapter) error {
	subscriber, err := newOutboxSubscriber(db, logger)
	if err != nil {
		return err
	}

	return subscriber.Close()
}

func NewForwarder(db *sqlx.DB, rdb *redis.Client, logger watermill.LoggerAdapter) (*Forwarder, error) {
	subscriber, err := newOutboxSubscriber(db, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := NewRedisPublisher(rdb, logger)
	if err != nil {
		return nil, err
	}

	fwd, err := forwarder.NewForwarder(subscriber, publisher, logger, forwarder.Config{
		ForwarderTopic: outboxTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating outbox forwarder: %w", err)
	}

	return &Forwarder{fwd}, nil
}

func outboxPublisher(tx *sql.Tx, logger watermill.LoggerAdapter) (message.Publisher, error) {
	sqlPublisher, err := watermillSQL.NewPublisher(tx, watermillSQL.PublisherConfig{
		SchemaAdapter: watermillSQL.DefaultPostgreSQLSchema{},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating outbox publisher: %w", err)
	}

	outbox := forwarder.NewPublisher(sqlPublisher, forwarder.PublisherConfig{
		ForwarderTopic: outboxTopic,
	})

	return log.CorrelationPublisherDecorator{Publisher: outbox}, nil
}

// PublishInTx writes events to the outbox inside tx. They reach Redis only
// if tx commits.
func PublishInTx(ctx context.Context, tx *sql.Tx, logger watermill.LoggerAdapter, events ...any) error {
	publisher, err := outboxPublisher(tx, logger)
	if err != nil {
		return err
	}

	bus, err := NewEventBus(publisher, logger)
	if err != nil {
		return fmt.Errorf("creating outbox event bus: %w", err)
	}

	for _, e := range events {
		if err := bus.Publish(ctx, e); err != nil {
			return fmt.Errorf("publishing %T to outbox: %w", e, err)
		}
	}

	return nil
}

// SendInTx is PublishInTx for commands.
func SendInTx(ctx context.Context, tx *sql.Tx, logger watermill.LoggerAdapter, commands ...any) error {
	publisher, err := outboxPublisher(tx, logger)
	if err != nil {
		return err
	}

	bus, err := NewCommandBus(publisher, logger)
	if err != nil {
		return fmt.Errorf("creating outbox command bus: %w", err)
	}

	for _, cmd := range commands {
		if err := bus.Send(ctx, cmd); err != nil {
			return fmt.Errorf("sending %T to outbox: %w", cmd, err)
		}
	}

	return nil
}
