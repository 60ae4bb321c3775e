package message

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Logger          watermill.LoggerAdapter
	RedisClient     *redis.Client
	EventBus        Publisher
	ReceiptIssuer   ReceiptIssuer
	TicketGenerator TicketGenerator
	PaymentVoider   PaymentVoider
}

type Router struct {
	*message.Router
}

func NewRouter(deps RouterDeps) (*Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	useMiddlewares(router, deps.Logger)

	handler := NewHandler(deps.EventBus, deps.ReceiptIssuer, deps.TicketGenerator, deps.PaymentVoider)

	ep, err := cqrs.NewEventProcessorWithConfig(router, eventProcessorConfig(deps.RedisClient, deps.Logger))
	if err != nil {
		return nil, fmt.Errorf("creating event processor: %w", err)
	}

	err = ep.AddHandlers(
		cqrs.NewEventHandler("issue-receipt", handler.IssueReceipt),
		cqrs.NewEventHandler("print-ticket", handler.PrintTicket),
	)
	if err != nil {
		return nil, fmt.Errorf("adding event handlers: %w", err)
	}

	cp, err := cqrs.NewCommandProcessorWithConfig(router, commandProcessorConfig(deps.RedisClient, deps.Logger))
	if err != nil {
		return nil, fmt.Errorf("creating command processor: %w", err)
	}

	err = cp.AddHandlers(
		cqrs.NewCommandHandler("void-payment", handler.VoidPayment),
	)
	if err != nil {
		return nil, fmt.Errorf("adding command handlers: %w", err)
	}

	return &Router{router}, nil
}
