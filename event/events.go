package event

import (
	"time"

	"guestlist/entity"

	"github.com/ThreeDotsLabs/watermill"
)

type header struct {
	ID             string    `json:"id"`
	PublishedAt    time.Time `json:"published_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func newHeader(idempotencyKey string) header {
	return header{
		ID:             watermill.NewUUID(),
		PublishedAt:    time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	}
}

type TicketIssued struct {
	Header          header       `json:"header"`
	TicketID        string       `json:"ticket_id"`
	Code            string       `json:"code"`
	EventID         string       `json:"event_id"`
	CategoryID      string       `json:"category_id"`
	CustomerEmail   string       `json:"customer_email"`
	PromoterID      *string      `json:"promoter_id,omitempty"`
	AuthorizationID string       `json:"authorization_id"`
	Price           entity.Money `json:"price"`
}

// NewTicketIssued uses the ticket id as idempotency key, so downstream
// consumers act once per ticket however often the event is delivered.
func NewTicketIssued(ticket entity.Ticket) TicketIssued {
	return TicketIssued{
		Header:          newHeader(ticket.TicketID),
		TicketID:        ticket.TicketID,
		Code:            ticket.Code,
		EventID:         ticket.EventID,
		CategoryID:      ticket.CategoryID,
		CustomerEmail:   ticket.CustomerEmail,
		PromoterID:      ticket.PromoterID,
		AuthorizationID: ticket.AuthorizationID,
		Price:           ticket.Price,
	}
}

type TicketCheckedIn struct {
	Header      header    `json:"header"`
	TicketID    string    `json:"ticket_id"`
	EventID     string    `json:"event_id"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

func NewTicketCheckedIn(ticketID, eventID string, checkedInAt time.Time) TicketCheckedIn {
	return TicketCheckedIn{
		Header:      newHeader(ticketID),
		TicketID:    ticketID,
		EventID:     eventID,
		CheckedInAt: checkedInAt,
	}
}

type TicketPrinted struct {
	Header   header `json:"header"`
	TicketID string `json:"ticket_id"`
	FileName string `json:"file_name"`
}

func NewTicketPrinted(idempotencyKey, ticketID, fileName string) TicketPrinted {
	return TicketPrinted{
		Header:   newHeader(idempotencyKey),
		TicketID: ticketID,
		FileName: fileName,
	}
}

type PurchaseVoided struct {
	Header          header `json:"header"`
	AuthorizationID string `json:"authorization_id"`
	EventID         string `json:"event_id"`
	Reason          string `json:"reason"`
}

func NewPurchaseVoided(authorizationID, eventID, reason string) PurchaseVoided {
	return PurchaseVoided{
		Header:          newHeader(authorizationID),
		AuthorizationID: authorizationID,
		EventID:         eventID,
		Reason:          reason,
	}
}
