package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"guestlist/entity"
	"guestlist/metrics"
	"guestlist/ticketing"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const headerKeyIdempotencyKey = "Idempotency-Key"

type Purchaser interface {
	Quote(ctx context.Context, eventID string, items []ticketing.ItemRequest, promoCode string, now time.Time) (ticketing.Quote, error)
	Purchase(ctx context.Context, p ticketing.Principal, req ticketing.PurchaseRequest) (ticketing.PurchaseResult, error)
	ConfirmPayment(ctx context.Context, p ticketing.Principal, authorizationID string, now time.Time) (ticketing.PurchaseResult, error)
}

type PromoValidator interface {
	Validate(ctx context.Context, eventID, code string) (ticketing.PromoDiscount, error)
}

type CheckInService interface {
	CheckIn(ctx context.Context, p ticketing.Principal, code string, now time.Time) (ticketing.CheckInResult, error)
}

type UsageService interface {
	GetUsage(ctx context.Context, p ticketing.Principal, eventID string, promoterID *string) ([]entity.PromoUsage, error)
	Recompute(ctx context.Context, p ticketing.Principal, eventID string) error
}

type CatalogService interface {
	CreateEvent(ctx context.Context, p ticketing.Principal, event entity.Event) (entity.Event, error)
	CancelEvent(ctx context.Context, p ticketing.Principal, eventID string) error
	PutPromoCode(ctx context.Context, p ticketing.Principal, promo entity.PromoCode) (entity.PromoCode, error)
	ListTickets(ctx context.Context, p ticketing.Principal, eventID string) ([]entity.Ticket, error)
}

type handler struct {
	purchases Purchaser
	promos    PromoValidator
	checkIns  CheckInService
	usage     UsageService
	catalog   CatalogService
	now       func() time.Time
}

func bind(c echo.Context, request any) error {
	if err := c.Bind(request); err != nil {
		return &echo.HTTPError{
			Code:     http.StatusBadRequest,
			Message:  "failed to parse request",
			Internal: fmt.Errorf("failed to bind request: %w", err),
		}
	}
	return nil
}

type category struct {
	CategoryID string          `json:"category_id"`
	Label      string          `json:"label"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Capacity   uint            `json:"capacity"`
}

type createEventRequest struct {
	EventID        string     `json:"event_id"`
	OrganizationID string     `json:"organization_id"`
	Title          string     `json:"title"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	SalesCutoff    time.Time  `json:"sales_cutoff"`
	Currency       string     `json:"currency"`
	Categories     []category `json:"categories"`
}

func (h handler) CreateEvent(c echo.Context) error {
	var request createEventRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	p := principal(c)
	event := entity.Event{
		EventID:        request.EventID,
		OrganizationID: request.OrganizationID,
		Title:          request.Title,
		StartTime:      request.StartTime,
		EndTime:        request.EndTime,
		SalesCutoff:    request.SalesCutoff,
		Currency:       request.Currency,
	}
	if event.OrganizationID == "" {
		event.OrganizationID = p.OrganizationID
	}
	for _, cat := range request.Categories {
		event.Categories = append(event.Categories, entity.TicketCategory{
			CategoryID: cat.CategoryID,
			Label:      cat.Label,
			UnitPrice:  cat.UnitPrice,
			Capacity:   cat.Capacity,
		})
	}

	created, err := h.catalog.CreateEvent(c.Request().Context(), p, event)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, created)
}

func (h handler) CancelEvent(c echo.Context) error {
	if err := h.catalog.CancelEvent(c.Request().Context(), principal(c), c.Param("event_id")); err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h handler) ListTickets(c echo.Context) error {
	tickets, err := h.catalog.ListTickets(c.Request().Context(), principal(c), c.Param("event_id"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, tickets)
}

type putPromoCodeRequest struct {
	Code           string          `json:"code"`
	OrganizationID string          `json:"organization_id"`
	PromoterID     string          `json:"promoter_id"`
	Discount       decimal.Decimal `json:"discount"`
	Disabled       bool            `json:"disabled"`
}

func (h handler) PutPromoCode(c echo.Context) error {
	var request putPromoCodeRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	p := principal(c)
	promo := entity.PromoCode{
		Code:           request.Code,
		OrganizationID: request.OrganizationID,
		PromoterID:     request.PromoterID,
		Discount:       request.Discount,
		Disabled:       request.Disabled,
	}
	if promo.OrganizationID == "" {
		promo.OrganizationID = p.OrganizationID
	}

	stored, err := h.catalog.PutPromoCode(c.Request().Context(), p, promo)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, stored)
}

func (h handler) ValidatePromoCode(c echo.Context) error {
	discount, err := h.promos.Validate(c.Request().Context(), c.Param("event_id"), c.Param("code"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, discount)
}

type quoteRequest struct {
	Items     []ticketing.ItemRequest `json:"items"`
	PromoCode string                  `json:"promo_code"`
}

func (h handler) Quote(c echo.Context) error {
	var request quoteRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	quote, err := h.purchases.Quote(c.Request().Context(), c.Param("event_id"), request.Items, request.PromoCode, h.now())
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, quote)
}

type purchaseRequest struct {
	Items         []ticketing.ItemRequest `json:"items"`
	PromoCode     string                  `json:"promo_code"`
	BuyerEmail    string                  `json:"buyer_email"`
	PaymentMethod string                  `json:"payment_method"`
}

func (h handler) Purchase(c echo.Context) error {
	var request purchaseRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	ctx := c.Request().Context()
	result, err := h.purchases.Purchase(ctx, principal(c), ticketing.PurchaseRequest{
		EventID:        c.Param("event_id"),
		Items:          request.Items,
		PromoCode:      request.PromoCode,
		BuyerEmail:     request.BuyerEmail,
		PaymentMethod:  request.PaymentMethod,
		IdempotencyKey: c.Request().Header.Get(headerKeyIdempotencyKey),
		Now:            h.now(),
	})
	metrics.TrackPurchase("purchase", err)
	if err != nil {
		log.FromContext(ctx).WithError(err).
			WithField("authorization_id", result.AuthorizationID).
			Info("Purchase not completed")
		return httpError(err)
	}

	if result.Replayed {
		return c.JSON(http.StatusOK, result)
	}
	return c.JSON(http.StatusCreated, result)
}

type confirmPaymentRequest struct {
	AuthorizationID string `json:"authorization_id"`
}

func (h handler) ConfirmPayment(c echo.Context) error {
	var request confirmPaymentRequest
	if err := bind(c, &request); err != nil {
		return err
	}
	if request.AuthorizationID == "" {
		return httpError(&ticketing.ValidationError{Field: "authorization_id", Reason: "must not be empty"})
	}

	result, err := h.purchases.ConfirmPayment(c.Request().Context(), principal(c), request.AuthorizationID, h.now())
	metrics.TrackPurchase("confirm_payment", err)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, result)
}

type checkInRequest struct {
	Code string `json:"code"`
}

func (h handler) CheckIn(c echo.Context) error {
	var request checkInRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	result, err := h.checkIns.CheckIn(c.Request().Context(), principal(c), request.Code, h.now())
	metrics.TrackCheckIn(result, err)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h handler) GetPromoUsage(c echo.Context) error {
	var promoterID *string
	if v := c.QueryParam("promoter_id"); v != "" {
		promoterID = &v
	}

	usage, err := h.usage.GetUsage(c.Request().Context(), principal(c), c.Param("event_id"), promoterID)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, usage)
}

func (h handler) RecomputePromoUsage(c echo.Context) error {
	if err := h.usage.Recompute(c.Request().Context(), principal(c), c.Param("event_id")); err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
