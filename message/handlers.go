package message

import (
	"context"
	"fmt"

	"guestlist/command"
	"guestlist/entity"
	"guestlist/event"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
)

type ReceiptIssuer interface {
	IssueReceipt(ctx context.Context, ticket entity.Ticket) error
}

type TicketGenerator interface {
	GenerateTicket(ctx context.Context, ticket entity.Ticket) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, event any) error
}

type PaymentVoider interface {
	Void(ctx context.Context, authorizationID string) error
}

type Handler struct {
	publisher       Publisher
	receiptIssuer   ReceiptIssuer
	ticketGenerator TicketGenerator
	paymentVoider   PaymentVoider
}

func NewHandler(p Publisher, r ReceiptIssuer, g TicketGenerator, v PaymentVoider) Handler {
	return Handler{
		publisher:       p,
		receiptIssuer:   r,
		ticketGenerator: g,
		paymentVoider:   v,
	}
}

func issuedTicket(e *event.TicketIssued) entity.Ticket {
	return entity.Ticket{
		TicketID:        e.TicketID,
		Code:            e.Code,
		EventID:         e.EventID,
		CategoryID:      e.CategoryID,
		CustomerEmail:   e.CustomerEmail,
		PromoterID:      e.PromoterID,
		AuthorizationID: e.AuthorizationID,
		Price:           e.Price,
	}
}

func (h Handler) IssueReceipt(ctx context.Context, e *event.TicketIssued) error {
	if err := h.receiptIssuer.IssueReceipt(ctx, issuedTicket(e)); err != nil {
		return fmt.Errorf("issuing receipt: %w", err)
	}

	return nil
}

func (h Handler) PrintTicket(ctx context.Context, e *event.TicketIssued) error {
	fileID, err := h.ticketGenerator.GenerateTicket(ctx, issuedTicket(e))
	if err != nil {
		return fmt.Errorf("generating ticket: %w", err)
	}

	ticketPrinted := event.NewTicketPrinted(e.Header.IdempotencyKey, e.TicketID, fileID)

	if err := h.publisher.Publish(ctx, ticketPrinted); err != nil {
		return fmt.Errorf("publishing ticket printed event: %w", err)
	}

	return nil
}

func (h Handler) VoidPayment(ctx context.Context, cmd *command.VoidPayment) error {
	if err := h.paymentVoider.Void(ctx, cmd.AuthorizationID); err != nil {
		return fmt.Errorf("voiding payment: %w", err)
	}

	log.FromContext(ctx).WithField("authorization_id", cmd.AuthorizationID).
		WithField("reason", cmd.Reason).
		Info("Authorization voided")

	return nil
}
