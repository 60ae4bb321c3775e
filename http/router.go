package http

import (
	"errors"
	"net/http"
	"time"

	"guestlist/metrics"

	commonHTTP "github.com/ThreeDotsLabs/go-event-driven/common/http"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrServerClosed = http.ErrServerClosed

type RouterDeps struct {
	Purchases Purchaser
	Promos    PromoValidator
	CheckIns  CheckInService
	Usage     UsageService
	Catalog   CatalogService
	Tokens    Tokens
	Now       func() time.Time
}

func NewRouter(deps RouterDeps) *echo.Echo {
	server := commonHTTP.NewEcho()
	server.Use(trackRequests)

	server.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	server.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	h := handler{
		purchases: deps.Purchases,
		promos:    deps.Promos,
		checkIns:  deps.CheckIns,
		usage:     deps.Usage,
		catalog:   deps.Catalog,
		now:       now,
	}

	api := server.Group("", principalMiddleware(deps.Tokens))

	api.POST("/events", h.CreateEvent)
	api.POST("/events/:event_id/cancel", h.CancelEvent)
	api.GET("/events/:event_id/tickets", h.ListTickets)
	api.POST("/promo-codes", h.PutPromoCode)
	api.GET("/events/:event_id/promo-codes/:code", h.ValidatePromoCode)
	api.POST("/events/:event_id/quote", h.Quote)
	api.POST("/events/:event_id/purchases", h.Purchase)
	api.POST("/payments/confirmations", h.ConfirmPayment)
	api.POST("/check-ins", h.CheckIn)
	api.GET("/events/:event_id/promo-usage", h.GetPromoUsage)
	api.POST("/events/:event_id/promo-usage/recompute", h.RecomputePromoUsage)

	return server
}

func trackRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		metrics.TrackHTTPRequest(c.Request().Method, c.Path(), responseCode(c, err), time.Since(start))

		return err
	}
}

// responseCode is the status the error handler will write for err. Errors
// other than *echo.HTTPError become a 500.
func responseCode(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}
