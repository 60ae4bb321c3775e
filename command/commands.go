package command

import (
	"time"

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

// VoidPayment retries reversing an authorization that could not be voided
// while the purchase was being settled.
type VoidPayment struct {
	Header          header `json:"header"`
	AuthorizationID string `json:"authorization_id"`
	Reason          string `json:"reason"`
}

func NewVoidPayment(authorizationID, reason string) VoidPayment {
	return VoidPayment{
		Header:          newHeader("void-" + authorizationID),
		AuthorizationID: authorizationID,
		Reason:          reason,
	}
}
