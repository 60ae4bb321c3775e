package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"guestlist/entity"
	"guestlist/http"
	"guestlist/ticketing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventID = "9f3c2a1e-4b7d-4e0a-9c55-0d1f2e3a4b5c"

var now = time.Date(2026, 5, 30, 20, 0, 0, 0, time.UTC)

type MockPurchaser struct {
	lock      sync.Mutex
	Err       error
	Replayed  bool
	Requests  []ticketing.PurchaseRequest
	Principal ticketing.Principal
}

func (m *MockPurchaser) Quote(_ context.Context, eventID string, items []ticketing.ItemRequest, _ string, _ time.Time) (ticketing.Quote, error) {
	if m.Err != nil {
		return ticketing.Quote{}, m.Err
	}
	return ticketing.Quote{
		EventID: eventID,
		Total:   entity.Money{Amount: decimal.NewFromInt(int64(20 * items[0].Quantity)), Currency: "USD"},
	}, nil
}

func (m *MockPurchaser) Purchase(_ context.Context, p ticketing.Principal, req ticketing.PurchaseRequest) (ticketing.PurchaseResult, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Requests = append(m.Requests, req)
	m.Principal = p
	if m.Err != nil {
		return ticketing.PurchaseResult{AuthorizationID: "auth_1"}, m.Err
	}
	return ticketing.PurchaseResult{
		AuthorizationID: "auth_1",
		Tickets:         []entity.Ticket{{TicketID: "ticket-1", Code: "9F3C-abcdefghij"}},
		Replayed:        m.Replayed,
	}, nil
}

func (m *MockPurchaser) ConfirmPayment(_ context.Context, p ticketing.Principal, authorizationID string, _ time.Time) (ticketing.PurchaseResult, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Principal = p
	if m.Err != nil {
		return ticketing.PurchaseResult{}, m.Err
	}
	return ticketing.PurchaseResult{AuthorizationID: authorizationID}, nil
}

type MockCheckIns struct {
	Err       error
	Principal ticketing.Principal
}

func (m *MockCheckIns) CheckIn(_ context.Context, p ticketing.Principal, code string, at time.Time) (ticketing.CheckInResult, error) {
	m.Principal = p
	if m.Err != nil {
		return ticketing.CheckInResult{}, m.Err
	}
	return ticketing.CheckInResult{
		Status:      ticketing.CheckInStatusCheckedIn,
		Ticket:      entity.Ticket{Code: code},
		CheckedInAt: at,
	}, nil
}

type MockPromos struct{}

func (MockPromos) Validate(_ context.Context, _, code string) (ticketing.PromoDiscount, error) {
	if code != "DJ5" {
		return ticketing.PromoDiscount{}, ticketing.ErrPromoCodeNotFound
	}
	return ticketing.PromoDiscount{Code: code, PromoterID: "promoter-1", Discount: decimal.NewFromInt(5)}, nil
}

type MockUsage struct {
	PromoterID *string
}

func (m *MockUsage) GetUsage(_ context.Context, _ ticketing.Principal, eventID string, promoterID *string) ([]entity.PromoUsage, error) {
	m.PromoterID = promoterID
	return []entity.PromoUsage{{EventID: eventID, PromoterID: "promoter-1", CategoryID: "general", Count: 3}}, nil
}

func (m *MockUsage) Recompute(context.Context, ticketing.Principal, string) error {
	return nil
}

type MockCatalog struct {
	Created entity.Event
	Err     error
}

func (m *MockCatalog) CreateEvent(_ context.Context, p ticketing.Principal, event entity.Event) (entity.Event, error) {
	if err := (ticketing.RolePolicy{}).Authorize(p, ticketing.CapabilityManageEvents, event.OrganizationID); err != nil {
		return entity.Event{}, err
	}
	if m.Err != nil {
		return entity.Event{}, m.Err
	}
	event.EventID = eventID
	m.Created = event
	return event, nil
}

func (m *MockCatalog) CancelEvent(context.Context, ticketing.Principal, string) error {
	return nil
}

func (m *MockCatalog) PutPromoCode(_ context.Context, _ ticketing.Principal, promo entity.PromoCode) (entity.PromoCode, error) {
	return promo, nil
}

func (m *MockCatalog) ListTickets(context.Context, ticketing.Principal, string) ([]entity.Ticket, error) {
	return []entity.Ticket{}, nil
}

type fixture struct {
	server    nethttp.Handler
	tokens    http.Tokens
	purchases *MockPurchaser
	checkIns  *MockCheckIns
	usage     *MockUsage
	catalog   *MockCatalog
}

func newFixture() fixture {
	f := fixture{
		tokens:    http.NewTokens("test-secret"),
		purchases: &MockPurchaser{},
		checkIns:  &MockCheckIns{},
		usage:     &MockUsage{},
		catalog:   &MockCatalog{},
	}
	f.server = http.NewRouter(http.RouterDeps{
		Purchases: f.purchases,
		Promos:    MockPromos{},
		CheckIns:  f.checkIns,
		Usage:     f.usage,
		Catalog:   f.catalog,
		Tokens:    f.tokens,
		Now:       func() time.Time { return now },
	})
	return f
}

func (f fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f fixture) bearer(t *testing.T, p ticketing.Principal) map[string]string {
	t.Helper()

	token, err := f.tokens.Sign(p, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealth(t *testing.T) {
	f := newFixture()

	rec := f.do(t, nethttp.MethodGet, "/health", "", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
}

func TestRequestMetrics_unhandled_error(t *testing.T) {
	f := newFixture()
	f.server.(*echo.Echo).GET("/fails", func(c echo.Context) error {
		return errors.New("disk on fire")
	})

	rec := f.do(t, nethttp.MethodGet, "/fails", "", nil)
	require.Equal(t, nethttp.StatusInternalServerError, rec.Code)

	rec = f.do(t, nethttp.MethodGet, "/metrics", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_request_duration_seconds_count{code="500",method="GET",route="/fails"} 1`)
	assert.NotContains(t, rec.Body.String(), `code="200",method="GET",route="/fails"`)
}

func TestPurchase(t *testing.T) {
	body := `{"items":[{"category_id":"general","quantity":2}],"promo_code":"dj5","buyer_email":"buyer@example.com","payment_method":"pm_card"}`

	t.Run("anonymous buyer", func(t *testing.T) {
		f := newFixture()

		rec := f.do(t, nethttp.MethodPost, "/events/"+eventID+"/purchases", body, map[string]string{"Idempotency-Key": "checkout-1"})
		require.Equal(t, nethttp.StatusCreated, rec.Code, rec.Body.String())

		require.Len(t, f.purchases.Requests, 1)
		req := f.purchases.Requests[0]
		assert.Equal(t, eventID, req.EventID)
		assert.Equal(t, "checkout-1", req.IdempotencyKey)
		assert.Equal(t, now, req.Now)
		assert.Equal(t, []ticketing.ItemRequest{{CategoryID: "general", Quantity: 2}}, req.Items)
		assert.Equal(t, ticketing.Anonymous, f.purchases.Principal)

		var result ticketing.PurchaseResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "auth_1", result.AuthorizationID)
		require.Len(t, result.Tickets, 1)
	})

	t.Run("replay", func(t *testing.T) {
		f := newFixture()
		f.purchases.Replayed = true

		rec := f.do(t, nethttp.MethodPost, "/events/"+eventID+"/purchases", body, nil)
		assert.Equal(t, nethttp.StatusOK, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture()

		rec := f.do(t, nethttp.MethodPost, "/events/"+eventID+"/purchases", `{"items":`, nil)
		assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &ticketing.ValidationError{Field: "quantity", Reason: "must be at least 1"}, nethttp.StatusBadRequest},
		{"sales closed", &ticketing.SalesClosedError{Cutoff: now}, nethttp.StatusConflict},
		{"sold out", &ticketing.OutOfCapacityError{CategoryID: "general", Available: 1, Requested: 2}, nethttp.StatusConflict},
		{"declined", &ticketing.PaymentDeclinedError{Reason: "card declined"}, nethttp.StatusPaymentRequired},
		{"processor down", &ticketing.PaymentProcessorError{Err: errors.New("timeout")}, nethttp.StatusServiceUnavailable},
		{"in progress", ticketing.ErrPurchaseInProgress, nethttp.StatusConflict},
		{"reclaimed", fmt.Errorf("auth_1: %w", ticketing.ErrClaimLost), nethttp.StatusConflict},
		{"idempotency key reused", ticketing.ErrIdempotencyKeyUsed, nethttp.StatusConflict},
		{"forbidden", ticketing.ErrForbidden, nethttp.StatusForbidden},
		{"unknown event", ticketing.ErrEventNotFound, nethttp.StatusNotFound},
		{"unexpected", errors.New("disk on fire"), nethttp.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.purchases.Err = tc.err

			body := `{"items":[{"category_id":"general","quantity":2}],"buyer_email":"buyer@example.com","payment_method":"pm_card"}`
			rec := f.do(t, nethttp.MethodPost, "/events/"+eventID+"/purchases", body, nil)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture()
	service := ticketing.Principal{UserID: "payments-webhook", Role: ticketing.RoleService}

	rec := f.do(t, nethttp.MethodPost, "/payments/confirmations", `{"authorization_id":"auth_1"}`, f.bearer(t, service))
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, service, f.purchases.Principal)

	rec = f.do(t, nethttp.MethodPost, "/payments/confirmations", `{}`, f.bearer(t, service))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestCheckIn(t *testing.T) {
	door := ticketing.Principal{UserID: "door-1", OrganizationID: "org-1", Role: ticketing.RoleDoor}

	t.Run("checked in", func(t *testing.T) {
		f := newFixture()

		rec := f.do(t, nethttp.MethodPost, "/check-ins", `{"code":"9F3C-abcdefghij"}`, f.bearer(t, door))
		require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, door, f.checkIns.Principal)

		var result ticketing.CheckInResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, ticketing.CheckInStatusCheckedIn, result.Status)
		assert.True(t, now.Equal(result.CheckedInAt))
	})

	t.Run("out of window", func(t *testing.T) {
		f := newFixture()
		f.checkIns.Err = &ticketing.OutOfWindowError{Start: now.Add(time.Hour), End: now.Add(7 * time.Hour)}

		rec := f.do(t, nethttp.MethodPost, "/check-ins", `{"code":"9F3C-abcdefghij"}`, f.bearer(t, door))
		assert.Equal(t, nethttp.StatusUnprocessableEntity, rec.Code)
	})
}

func TestPrincipalMiddleware(t *testing.T) {
	t.Run("bad signature", func(t *testing.T) {
		f := newFixture()
		other := http.NewTokens("another-secret")
		token, err := other.Sign(ticketing.Principal{UserID: "door-1", OrganizationID: "org-1", Role: ticketing.RoleDoor}, time.Hour)
		require.NoError(t, err)

		rec := f.do(t, nethttp.MethodPost, "/check-ins", `{"code":"X"}`, map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture()
		token, err := f.tokens.Sign(ticketing.Principal{UserID: "door-1", Role: ticketing.RoleDoor}, -time.Minute)
		require.NoError(t, err)

		rec := f.do(t, nethttp.MethodPost, "/check-ins", `{"code":"X"}`, map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
	})

	t.Run("not a bearer token", func(t *testing.T) {
		f := newFixture()

		rec := f.do(t, nethttp.MethodPost, "/check-ins", `{"code":"X"}`, map[string]string{"Authorization": "Basic dXNlcjpwdw=="})
		assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
	})

	t.Run("organization comes from the token", func(t *testing.T) {
		f := newFixture()
		owner := ticketing.Principal{UserID: "owner-1", OrganizationID: "org-1", Role: ticketing.RoleOwner}

		body := `{"title":"Rooftop Sessions","start_time":"2026-06-01T20:00:00Z","end_time":"2026-06-02T02:00:00Z","currency":"USD",
			"categories":[{"category_id":"general","label":"General","unit_price":"20.00","capacity":100}]}`
		rec := f.do(t, nethttp.MethodPost, "/events", body, f.bearer(t, owner))
		require.Equal(t, nethttp.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "org-1", f.catalog.Created.OrganizationID)
		assert.True(t, decimal.NewFromInt(20).Equal(f.catalog.Created.Categories[0].UnitPrice))

		rec = f.do(t, nethttp.MethodPost, "/events", body, nil)
		assert.Equal(t, nethttp.StatusForbidden, rec.Code)
	})

	t.Run("taken event id", func(t *testing.T) {
		f := newFixture()
		f.catalog.Err = fmt.Errorf("%s: %w", eventID, ticketing.ErrEventExists)
		owner := ticketing.Principal{UserID: "owner-1", OrganizationID: "org-2", Role: ticketing.RoleOwner}

		body := `{"event_id":"` + eventID + `","title":"Rooftop Sessions","start_time":"2026-06-01T20:00:00Z","end_time":"2026-06-02T02:00:00Z","currency":"USD",
			"categories":[{"category_id":"backstage","label":"Backstage","unit_price":"0","capacity":100}]}`
		rec := f.do(t, nethttp.MethodPost, "/events", body, f.bearer(t, owner))
		assert.Equal(t, nethttp.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "event_exists")
	})
}

func TestPromoEndpoints(t *testing.T) {
	f := newFixture()

	rec := f.do(t, nethttp.MethodGet, "/events/"+eventID+"/promo-codes/DJ5", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)

	var discount ticketing.PromoDiscount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &discount))
	assert.Equal(t, "promoter-1", discount.PromoterID)

	rec = f.do(t, nethttp.MethodGet, "/events/"+eventID+"/promo-codes/NOPE", "", nil)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)

	promoter := ticketing.Principal{UserID: "promoter-1", OrganizationID: "org-1", Role: ticketing.RolePromoter}
	rec = f.do(t, nethttp.MethodGet, "/events/"+eventID+"/promo-usage?promoter_id=promoter-2", "", f.bearer(t, promoter))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	require.NotNil(t, f.usage.PromoterID)
	assert.Equal(t, "promoter-2", *f.usage.PromoterID)

	rec = f.do(t, nethttp.MethodPost, "/events/"+eventID+"/quote", `{"items":[{"category_id":"general","quantity":3}]}`, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var quote ticketing.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.True(t, decimal.NewFromInt(60).Equal(quote.Total.Amount))
}
