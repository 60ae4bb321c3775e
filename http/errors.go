package http

import (
	"errors"
	"net/http"
	"time"

	"guestlist/ticketing"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error     string     `json:"error"`
	Reason    string     `json:"reason,omitempty"`
	Available *uint      `json:"available,omitempty"`
	Cutoff    *time.Time `json:"sales_cutoff,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
}

// httpError maps domain errors to responses. Anything unknown is a 500 with
// the cause kept internal.
func httpError(err error) *echo.HTTPError {
	var (
		validationErr *ticketing.ValidationError
		closedErr     *ticketing.SalesClosedError
		capacityErr   *ticketing.OutOfCapacityError
		declinedErr   *ticketing.PaymentDeclinedError
		processorErr  *ticketing.PaymentProcessorError
		windowErr     *ticketing.OutOfWindowError
	)

	switch {
	case errors.As(err, &validationErr):
		return newHTTPError(http.StatusBadRequest, errorResponse{Error: "invalid_request", Reason: validationErr.Error()}, err)
	case errors.As(err, &closedErr):
		return newHTTPError(http.StatusConflict, errorResponse{Error: "sales_closed", Cutoff: &closedErr.Cutoff}, err)
	case errors.As(err, &capacityErr):
		return newHTTPError(http.StatusConflict, errorResponse{Error: "sold_out", Available: &capacityErr.Available}, err)
	case errors.As(err, &declinedErr):
		return newHTTPError(http.StatusPaymentRequired, errorResponse{Error: "payment_declined", Reason: declinedErr.Reason}, err)
	case errors.As(err, &processorErr):
		return newHTTPError(http.StatusServiceUnavailable, errorResponse{Error: "payment_unavailable", Retryable: true}, err)
	case errors.As(err, &windowErr):
		return newHTTPError(http.StatusUnprocessableEntity, errorResponse{Error: "out_of_window", Start: &windowErr.Start, End: &windowErr.End}, err)
	case errors.Is(err, ticketing.ErrPurchaseInProgress):
		return newHTTPError(http.StatusConflict, errorResponse{Error: "in_progress", Retryable: true}, err)
	case errors.Is(err, ticketing.ErrIdempotencyKeyUsed):
		return newHTTPError(http.StatusConflict, errorResponse{Error: "idempotency_key_reused"}, err)
	case errors.Is(err, ticketing.ErrEventExists):
		return newHTTPError(http.StatusConflict, errorResponse{Error: "event_exists"}, err)
	case errors.Is(err, ticketing.ErrForbidden):
		return newHTTPError(http.StatusForbidden, errorResponse{Error: "forbidden"}, err)
	case errors.Is(err, ticketing.ErrNotFound):
		return newHTTPError(http.StatusNotFound, errorResponse{Error: "not_found", Reason: err.Error()}, err)
	default:
		return newHTTPError(http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)}, err)
	}
}

func newHTTPError(code int, body errorResponse, err error) *echo.HTTPError {
	return &echo.HTTPError{
		Code:     code,
		Message:  body,
		Internal: err,
	}
}
