package service_test

import (
	"context"
	"slices"
	"sync"

	"guestlist/entity"
	"guestlist/ticketing"

	"github.com/google/uuid"
)

type MockPayments struct {
	lock           sync.Mutex
	authorizations map[string]string
	Confirmed      []string
	Voided         []string
}

func (m *MockPayments) Authorize(_ context.Context, req ticketing.AuthorizationRequest) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.authorizations == nil {
		m.authorizations = map[string]string{}
	}
	if id, ok := m.authorizations[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := "auth_" + uuid.NewString()
	m.authorizations[req.IdempotencyKey] = id
	return id, nil
}

func (m *MockPayments) Confirm(_ context.Context, authorizationID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Confirmed = append(m.Confirmed, authorizationID)
	return nil
}

// Void is idempotent per authorization, as the processor's refunds are.
func (m *MockPayments) Void(_ context.Context, authorizationID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !slices.Contains(m.Voided, authorizationID) {
		m.Voided = append(m.Voided, authorizationID)
	}
	return nil
}

func (m *MockPayments) VoidedIDs() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	return slices.Clone(m.Voided)
}

type MockReceiptIssuer struct {
	lock     sync.Mutex
	receipts map[string]entity.Ticket
}

func (m *MockReceiptIssuer) IssueReceipt(_ context.Context, ticket entity.Ticket) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.receipts == nil {
		m.receipts = map[string]entity.Ticket{}
	}
	m.receipts[ticket.TicketID] = ticket
	return nil
}

func (m *MockReceiptIssuer) Receipt(ticketID string) (entity.Ticket, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	receipt, ok := m.receipts[ticketID]
	return receipt, ok
}

type MockTicketGenerator struct {
	lock    sync.Mutex
	printed map[string]int
}

func (m *MockTicketGenerator) GenerateTicket(_ context.Context, ticket entity.Ticket) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.printed == nil {
		m.printed = map[string]int{}
	}
	m.printed[ticket.TicketID]++
	return ticket.TicketID + "-ticket.html", nil
}

func (m *MockTicketGenerator) Printed(ticketID string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.printed[ticketID] > 0
}
