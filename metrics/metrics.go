package metrics

import (
	"errors"
	"strconv"
	"time"

	"guestlist/ticketing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_total",
			Help: "Purchase and payment confirmation calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	checkIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "check_ins_total",
			Help: "Door scans by outcome",
		},
		[]string{"outcome"},
	)

	reservedUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_units_total",
			Help: "Inventory units reserved and released",
		},
		[]string{"operation"},
	)

	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	messagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_handled_total",
			Help: "Messages handled by handler and status",
		},
		[]string{"handler", "status"},
	)

	messageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_handling_duration_seconds",
			Help:    "Duration of message handling",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)
)

// Outcome names the result of a core operation for use as a label value.
func Outcome(err error) string {
	var (
		validationErr *ticketing.ValidationError
		closedErr     *ticketing.SalesClosedError
		capacityErr   *ticketing.OutOfCapacityError
		declinedErr   *ticketing.PaymentDeclinedError
		processorErr  *ticketing.PaymentProcessorError
		windowErr     *ticketing.OutOfWindowError
	)

	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.As(err, &closedErr):
		return "sales_closed"
	case errors.As(err, &capacityErr):
		return "sold_out"
	case errors.As(err, &declinedErr):
		return "payment_declined"
	case errors.As(err, &processorErr):
		return "payment_unavailable"
	case errors.As(err, &windowErr):
		return "out_of_window"
	case errors.Is(err, ticketing.ErrPurchaseInProgress):
		return "in_progress"
	case errors.Is(err, ticketing.ErrForbidden):
		return "forbidden"
	case errors.Is(err, ticketing.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func TrackPurchase(operation string, err error) {
	purchases.WithLabelValues(operation, Outcome(err)).Inc()
}

func TrackCheckIn(result ticketing.CheckInResult, err error) {
	outcome := Outcome(err)
	if err == nil {
		outcome = string(result.Status)
	}
	checkIns.WithLabelValues(outcome).Inc()
}

func TrackMessage(handler string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	messagesHandled.WithLabelValues(handler, status).Inc()
	messageDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

func TrackHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(duration.Seconds())
}
