package clients

import (
	"context"
	"fmt"
	"net/http"

	"guestlist/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/clients"
	"github.com/ThreeDotsLabs/go-event-driven/common/clients/receipts"
	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"
)

type ReceiptsClient struct {
	client receipts.ClientWithResponsesInterface
}

func NewReceiptsClient(c *clients.Clients) ReceiptsClient {
	return ReceiptsClient{
		client: c.Receipts,
	}
}

func receiptIdempotencyKey(ticketID string) string {
	return "receipt-" + ticketID
}

// IssueReceipt asks the receipts service for a receipt printed with the code
// the buyer shows at the door. Redelivered events reuse the idempotency key
// of the ticket, so each ticket gets one receipt.
func (c ReceiptsClient) IssueReceipt(ctx context.Context, ticket entity.Ticket) error {
	idempotencyKey := receiptIdempotencyKey(ticket.TicketID)
	body := receipts.CreateReceipt{
		IdempotencyKey: &idempotencyKey,
		TicketId:       ticket.Code,
		Price: receipts.Money{
			MoneyAmount:   ticket.Price.Amount.StringFixed(2),
			MoneyCurrency: ticket.Price.Currency,
		},
	}

	res, err := c.client.PutReceiptsWithResponse(ctx, body)
	if err != nil {
		return fmt.Errorf("put receipt request for ticket %s: %w", ticket.TicketID, err)
	}

	switch res.StatusCode() {
	case http.StatusOK, http.StatusCreated:
	case http.StatusBadRequest:
		reason := string(res.Body)
		if res.JSON400 != nil {
			reason = res.JSON400.Error
		}
		return fmt.Errorf("receipt for ticket %s rejected: %s", ticket.TicketID, reason)
	default:
		return fmt.Errorf("unexpected status code for ticket %s: %d", ticket.TicketID, res.StatusCode())
	}

	log.FromContext(ctx).WithFields(logrus.Fields{
		"ticket_id": ticket.TicketID,
		"event_id":  ticket.EventID,
		"code":      ticket.Code,
	}).Debug("Receipt issued")

	return nil
}
