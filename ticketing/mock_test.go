package ticketing_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"guestlist/entity"
	"guestlist/ticketing"

	"github.com/google/uuid"
)

type MockEventRepo struct {
	lock   sync.Mutex
	events map[string]entity.Event
}

func NewMockEventRepo(events ...entity.Event) *MockEventRepo {
	m := &MockEventRepo{events: map[string]entity.Event{}}
	for _, e := range events {
		m.events[e.EventID] = e
	}
	return m
}

func (m *MockEventRepo) Get(_ context.Context, eventID string) (entity.Event, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.events[eventID]
	if !ok {
		return entity.Event{}, ticketing.ErrEventNotFound
	}
	return e, nil
}

type MockPromoCodeRepo struct {
	lock    sync.Mutex
	codes   map[string]entity.PromoCode
	Lookups int
}

func NewMockPromoCodeRepo(codes ...entity.PromoCode) *MockPromoCodeRepo {
	m := &MockPromoCodeRepo{codes: map[string]entity.PromoCode{}}
	for _, c := range codes {
		m.codes[c.OrganizationID+"/"+c.Code] = c
	}
	return m
}

func (m *MockPromoCodeRepo) GetByCode(_ context.Context, organizationID, code string) (entity.PromoCode, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Lookups++
	c, ok := m.codes[organizationID+"/"+code]
	if !ok {
		return entity.PromoCode{}, ticketing.ErrPromoCodeNotFound
	}
	return c, nil
}

type ledgerCategory struct {
	capacity uint
	sold     uint
}

type heldUnit struct {
	holder     string
	categoryID string
}

type MockLedger struct {
	lock       sync.Mutex
	categories map[string]*ledgerCategory
	tokens     map[string]heldUnit
	Err        error
}

func NewMockLedger(event entity.Event) *MockLedger {
	m := &MockLedger{
		categories: map[string]*ledgerCategory{},
		tokens:     map[string]heldUnit{},
	}
	for _, c := range event.Categories {
		m.categories[c.CategoryID] = &ledgerCategory{capacity: c.Capacity, sold: c.Sold}
	}
	return m
}

func (m *MockLedger) TryReserve(_ context.Context, holder, eventID, categoryID string, quantity uint) (ticketing.Reservation, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.Err != nil {
		return ticketing.Reservation{}, m.Err
	}

	c, ok := m.categories[categoryID]
	if !ok {
		return ticketing.Reservation{}, fmt.Errorf("category %s: %w", categoryID, ticketing.ErrNotFound)
	}
	if c.sold+quantity > c.capacity {
		return ticketing.Reservation{}, &ticketing.OutOfCapacityError{
			CategoryID: categoryID,
			Available:  c.capacity - c.sold,
			Requested:  quantity,
		}
	}

	c.sold += quantity
	r := ticketing.Reservation{Holder: holder, EventID: eventID, CategoryID: categoryID}
	for i := uint(0); i < quantity; i++ {
		token := uuid.NewString()
		m.tokens[token] = heldUnit{holder: holder, categoryID: categoryID}
		r.Tokens = append(r.Tokens, token)
	}
	return r, nil
}

func (m *MockLedger) Release(_ context.Context, tokens ...string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, token := range tokens {
		m.release(token)
	}
	return nil
}

func (m *MockLedger) ReleaseHeld(_ context.Context, holder string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.Err != nil {
		return m.Err
	}
	for token, unit := range m.tokens {
		if unit.holder == holder {
			m.release(token)
		}
	}
	return nil
}

func (m *MockLedger) release(token string) {
	unit, ok := m.tokens[token]
	if !ok {
		return
	}
	delete(m.tokens, token)
	m.categories[unit.categoryID].sold--
}

func (m *MockLedger) Held(holder string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	var n int
	for _, unit := range m.tokens {
		if unit.holder == holder {
			n++
		}
	}
	return n
}

func (m *MockLedger) Sold(categoryID string) uint {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.categories[categoryID].sold
}

type MockPaymentProcessor struct {
	lock sync.Mutex

	// authorizations by idempotency key
	authorizations map[string]string
	Authorized     []ticketing.AuthorizationRequest
	Confirmed      []string
	Voided         []string

	DeclineAuthorize bool
	DeclineConfirm   bool
	ConfirmErr       error
	VoidErr          error
}

func NewMockPaymentProcessor() *MockPaymentProcessor {
	return &MockPaymentProcessor{authorizations: map[string]string{}}
}

func (m *MockPaymentProcessor) Authorize(_ context.Context, req ticketing.AuthorizationRequest) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.DeclineAuthorize {
		return "", &ticketing.PaymentDeclinedError{Reason: "card declined"}
	}

	m.Authorized = append(m.Authorized, req)
	if id, ok := m.authorizations[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := "auth_" + uuid.NewString()
	m.authorizations[req.IdempotencyKey] = id
	return id, nil
}

func (m *MockPaymentProcessor) Confirm(_ context.Context, authorizationID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.ConfirmErr != nil {
		return m.ConfirmErr
	}
	if m.DeclineConfirm {
		return &ticketing.PaymentDeclinedError{Reason: "insufficient funds"}
	}
	m.Confirmed = append(m.Confirmed, authorizationID)
	return nil
}

func (m *MockPaymentProcessor) Void(_ context.Context, authorizationID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.VoidErr != nil {
		return m.VoidErr
	}
	m.Voided = append(m.Voided, authorizationID)
	return nil
}

func (m *MockPaymentProcessor) VoidedIDs() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	return slices.Clone(m.Voided)
}

type MockVoidScheduler struct {
	lock      sync.Mutex
	Scheduled []string
}

func (m *MockVoidScheduler) ScheduleVoid(_ context.Context, authorizationID, reason string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Scheduled = append(m.Scheduled, authorizationID)
	return nil
}

type MockAttemptRepo struct {
	lock     sync.Mutex
	attempts map[string]entity.PurchaseAttempt

	CreateErr     error
	MarkVoidedErr error
}

func NewMockAttemptRepo() *MockAttemptRepo {
	return &MockAttemptRepo{attempts: map[string]entity.PurchaseAttempt{}}
}

func (m *MockAttemptRepo) Create(_ context.Context, attempt entity.PurchaseAttempt) (entity.PurchaseAttempt, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.CreateErr != nil {
		return entity.PurchaseAttempt{}, m.CreateErr
	}
	if existing, ok := m.attempts[attempt.AuthorizationID]; ok {
		return existing, nil
	}
	m.attempts[attempt.AuthorizationID] = attempt
	return attempt, nil
}

func (m *MockAttemptRepo) Get(_ context.Context, authorizationID string) (entity.PurchaseAttempt, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	a, ok := m.attempts[authorizationID]
	if !ok {
		return entity.PurchaseAttempt{}, ticketing.ErrAttemptNotFound
	}
	return a, nil
}

func (m *MockAttemptRepo) GetByIdempotencyKey(_ context.Context, idempotencyKey string) (entity.PurchaseAttempt, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, a := range m.attempts {
		if a.IdempotencyKey == idempotencyKey {
			return a, nil
		}
	}
	return entity.PurchaseAttempt{}, ticketing.ErrAttemptNotFound
}

func (m *MockAttemptRepo) Transition(_ context.Context, authorizationID string, from, to entity.AttemptStatus) (entity.PurchaseAttempt, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	a, ok := m.attempts[authorizationID]
	if !ok {
		return entity.PurchaseAttempt{}, false, ticketing.ErrAttemptNotFound
	}
	if a.Status != from {
		return a, false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.attempts[authorizationID] = a
	return a, true, nil
}

func (m *MockAttemptRepo) Reclaim(_ context.Context, authorizationID string, lease time.Duration) (entity.PurchaseAttempt, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	a, ok := m.attempts[authorizationID]
	if !ok {
		return entity.PurchaseAttempt{}, false, ticketing.ErrAttemptNotFound
	}
	if a.Status != entity.AttemptStatusIssuing || time.Since(a.UpdatedAt) < lease {
		return a, false, nil
	}
	a.UpdatedAt = time.Now()
	m.attempts[authorizationID] = a
	return a, true, nil
}

// Stall leaves the attempt issuing as if its owner stopped d ago.
func (m *MockAttemptRepo) Stall(authorizationID string, d time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	a := m.attempts[authorizationID]
	a.Status = entity.AttemptStatusIssuing
	a.UpdatedAt = time.Now().Add(-d)
	m.attempts[authorizationID] = a
}

func (m *MockAttemptRepo) Unclaim(_ context.Context, claim entity.PurchaseAttempt) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	a, ok := m.claimed(claim)
	if !ok {
		return nil
	}
	a.Status = entity.AttemptStatusPending
	a.UpdatedAt = time.Now()
	m.attempts[a.AuthorizationID] = a
	return nil
}

func (m *MockAttemptRepo) MarkVoided(_ context.Context, claim entity.PurchaseAttempt, reason string, available uint) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.MarkVoidedErr != nil {
		return m.MarkVoidedErr
	}
	a, ok := m.claimed(claim)
	if !ok {
		return ticketing.ErrClaimLost
	}
	a.Status = entity.AttemptStatusVoided
	a.VoidReason = reason
	a.Available = available
	a.UpdatedAt = time.Now()
	m.attempts[a.AuthorizationID] = a
	return nil
}

func (m *MockAttemptRepo) markIssued(claim entity.PurchaseAttempt) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	a, ok := m.claimed(claim)
	if !ok {
		return ticketing.ErrClaimLost
	}
	a.Status = entity.AttemptStatusIssued
	a.UpdatedAt = time.Now()
	m.attempts[a.AuthorizationID] = a
	return nil
}

// claimed returns the stored attempt while claim still holds it. Callers hold
// the lock.
func (m *MockAttemptRepo) claimed(claim entity.PurchaseAttempt) (entity.PurchaseAttempt, bool) {
	a, ok := m.attempts[claim.AuthorizationID]
	if !ok || a.Status != entity.AttemptStatusIssuing || !a.UpdatedAt.Equal(claim.UpdatedAt) {
		return a, false
	}
	return a, true
}

type MockTicketRepo struct {
	lock     sync.Mutex
	attempts *MockAttemptRepo
	tickets  []entity.Ticket

	// DuplicateCodes makes the next n AddIssued calls fail with a code clash.
	DuplicateCodes int
	AddErr         error
}

func NewMockTicketRepo(attempts *MockAttemptRepo) *MockTicketRepo {
	return &MockTicketRepo{attempts: attempts}
}

func (m *MockTicketRepo) AddIssued(_ context.Context, claim entity.PurchaseAttempt, tickets []entity.Ticket) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.AddErr != nil {
		return m.AddErr
	}
	if m.DuplicateCodes > 0 {
		m.DuplicateCodes--
		return ticketing.ErrDuplicateCode
	}

	if m.attempts != nil {
		if err := m.attempts.markIssued(claim); err != nil {
			return err
		}
	}
	m.tickets = append(m.tickets, tickets...)
	return nil
}

func (m *MockTicketRepo) ListByAuthorization(_ context.Context, authorizationID string) ([]entity.Ticket, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var tickets []entity.Ticket
	for _, t := range m.tickets {
		if t.AuthorizationID == authorizationID {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}

func (m *MockTicketRepo) GetByCode(_ context.Context, code string) (entity.Ticket, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, t := range m.tickets {
		if t.Code == code {
			return t, nil
		}
	}
	return entity.Ticket{}, ticketing.ErrTicketNotFound
}

func (m *MockTicketRepo) CheckIn(_ context.Context, ticketID string, at time.Time) (time.Time, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i, t := range m.tickets {
		if t.TicketID != ticketID {
			continue
		}
		if t.CheckedInAt != nil {
			return *t.CheckedInAt, false, nil
		}
		m.tickets[i].CheckedInAt = &at
		return at, true, nil
	}
	return time.Time{}, false, ticketing.ErrTicketNotFound
}

func (m *MockTicketRepo) All() []entity.Ticket {
	m.lock.Lock()
	defer m.lock.Unlock()

	return slices.Clone(m.tickets)
}

type MockUsageStore struct {
	lock   sync.Mutex
	counts map[entity.PromoUsage]uint
	Err    error
}

func NewMockUsageStore() *MockUsageStore {
	return &MockUsageStore{counts: map[entity.PromoUsage]uint{}}
}

func (m *MockUsageStore) Increment(_ context.Context, eventID, promoterID, categoryID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.counts[entity.PromoUsage{EventID: eventID, PromoterID: promoterID, CategoryID: categoryID}]++
	return nil
}

func (m *MockUsageStore) GetUsage(_ context.Context, eventID string, promoterID *string) ([]entity.PromoUsage, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var usage []entity.PromoUsage
	for key, count := range m.counts {
		if key.EventID != eventID {
			continue
		}
		if promoterID != nil && key.PromoterID != *promoterID {
			continue
		}
		key.Count = count
		usage = append(usage, key)
	}
	return usage, nil
}

func (m *MockUsageStore) Recompute(_ context.Context, eventID string) error {
	return nil
}

func (m *MockEventRepo) Add(_ context.Context, event entity.Event) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.events[event.EventID]; ok {
		return fmt.Errorf("%s: %w", event.EventID, ticketing.ErrEventExists)
	}
	m.events[event.EventID] = event
	return nil
}

func (m *MockEventRepo) Cancel(_ context.Context, eventID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.events[eventID]
	if !ok {
		return ticketing.ErrEventNotFound
	}
	e.Canceled = true
	m.events[eventID] = e
	return nil
}

func (m *MockPromoCodeRepo) Put(_ context.Context, promo entity.PromoCode) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.codes[promo.OrganizationID+"/"+promo.Code] = promo
	return nil
}

func (m *MockTicketRepo) ListByEvent(_ context.Context, eventID string) ([]entity.Ticket, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var tickets []entity.Ticket
	for _, t := range m.tickets {
		if t.EventID == eventID {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}
