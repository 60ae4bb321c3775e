package ticketing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guestlist/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
)

const (
	VoidReasonSoldOut     = "sold_out"
	VoidReasonSalesClosed = "sales_closed"
	VoidReasonNotStored   = "attempt_not_stored"

	// DefaultIssuingLease is how long an issuing attempt belongs to the
	// caller that claimed it before another confirmation may take it over.
	DefaultIssuingLease = 2 * time.Minute

	maxCodeAttempts = 3
)

type PurchaseRequest struct {
	EventID        string
	Items          []ItemRequest
	PromoCode      string
	BuyerEmail     string
	PaymentMethod  string
	IdempotencyKey string
	Now            time.Time
}

func (r PurchaseRequest) validate() error {
	if r.EventID == "" {
		return &ValidationError{Field: "event_id", Reason: "must not be empty"}
	}
	if !strings.Contains(r.BuyerEmail, "@") {
		return &ValidationError{Field: "buyer_email", Reason: "must be an email address"}
	}
	if r.PaymentMethod == "" {
		return &ValidationError{Field: "payment_method", Reason: "must not be empty"}
	}
	if _, err := mergeItems(r.Items); err != nil {
		return err
	}
	return nil
}

type PurchaseResult struct {
	AuthorizationID string          `json:"authorization_id"`
	Tickets         []entity.Ticket `json:"tickets"`
	Total           entity.Money    `json:"total"`
	Replayed        bool            `json:"replayed"`
}

type OrchestratorDeps struct {
	Events     EventRepo
	Promos     *PromoValidator
	Ledger     InventoryLedger
	Payments   PaymentProcessor
	Attempts   AttemptRepo
	Tickets    TicketRepo
	Usage      UsageRecorder
	Voids      VoidScheduler
	Authorizer Authorizer

	// LateConfirmationAfter is how long after authorization a confirmation
	// is treated as late and has the sale cutoff checked again.
	LateConfirmationAfter time.Duration
	IssuingLease          time.Duration
}

// Orchestrator sells tickets: it prices the order, obtains a payment
// authorization and only after the charge is confirmed reserves inventory and
// issues tickets. Every step is keyed by the authorization id so confirmations
// can be retried safely.
type Orchestrator struct {
	events     EventRepo
	promos     *PromoValidator
	ledger     InventoryLedger
	payments   PaymentProcessor
	attempts   AttemptRepo
	tickets    TicketRepo
	usage      UsageRecorder
	voids      VoidScheduler
	authorizer Authorizer
	lateAfter  time.Duration
	lease      time.Duration
}

func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.Events == nil {
		return nil, errors.New("missing event repo")
	}
	if deps.Promos == nil {
		return nil, errors.New("missing promo validator")
	}
	if deps.Ledger == nil {
		return nil, errors.New("missing inventory ledger")
	}
	if deps.Payments == nil {
		return nil, errors.New("missing payment processor")
	}
	if deps.Attempts == nil {
		return nil, errors.New("missing attempt repo")
	}
	if deps.Tickets == nil {
		return nil, errors.New("missing ticket repo")
	}
	if deps.Usage == nil {
		return nil, errors.New("missing usage recorder")
	}
	if deps.Voids == nil {
		return nil, errors.New("missing void scheduler")
	}

	authorizer := deps.Authorizer
	if authorizer == nil {
		authorizer = RolePolicy{}
	}
	lease := deps.IssuingLease
	if lease <= 0 {
		lease = DefaultIssuingLease
	}

	return &Orchestrator{
		events:     deps.Events,
		promos:     deps.Promos,
		ledger:     deps.Ledger,
		payments:   deps.Payments,
		attempts:   deps.Attempts,
		tickets:    deps.Tickets,
		usage:      deps.Usage,
		voids:      deps.Voids,
		authorizer: authorizer,
		lateAfter:  deps.LateConfirmationAfter,
		lease:      lease,
	}, nil
}

// Quote prices an order the same way Purchase does, without side effects.
func (o *Orchestrator) Quote(ctx context.Context, eventID string, items []ItemRequest, promoCode string, now time.Time) (Quote, error) {
	event, err := o.events.Get(ctx, eventID)
	if err != nil {
		return Quote{}, fmt.Errorf("getting event: %w", err)
	}

	return o.quote(ctx, event, items, promoCode, now)
}

func (o *Orchestrator) quote(ctx context.Context, event entity.Event, items []ItemRequest, promoCode string, now time.Time) (Quote, error) {
	if salesClosed(event, now) {
		return Quote{}, &SalesClosedError{Cutoff: event.SalesCutoff}
	}

	var promo *PromoDiscount
	if NormalizePromoCode(promoCode) != "" {
		discount, err := o.promos.validateForEvent(ctx, event, promoCode)
		if err != nil {
			return Quote{}, err
		}
		promo = &discount
	}

	return price(event, items, promo)
}

func (o *Orchestrator) Purchase(ctx context.Context, p Principal, req PurchaseRequest) (PurchaseResult, error) {
	if err := req.validate(); err != nil {
		return PurchaseResult{}, err
	}

	event, err := o.events.Get(ctx, req.EventID)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("getting event: %w", err)
	}

	if err := o.authorizer.Authorize(p, CapabilityPurchase, event.OrganizationID); err != nil {
		return PurchaseResult{}, err
	}

	if req.IdempotencyKey != "" {
		attempt, err := o.attempts.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			if !sameOrder(attempt, req) {
				return PurchaseResult{}, ErrIdempotencyKeyUsed
			}
			return o.resume(ctx, attempt, req.Now)
		}
		if !errors.Is(err, ErrNotFound) {
			return PurchaseResult{}, fmt.Errorf("getting purchase attempt: %w", err)
		}
	} else {
		req.IdempotencyKey = uuid.NewString()
	}

	quote, err := o.quote(ctx, event, req.Items, req.PromoCode, req.Now)
	if err != nil {
		return PurchaseResult{}, err
	}

	authorizationID, err := o.payments.Authorize(ctx, AuthorizationRequest{
		Amount:         quote.Total,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return PurchaseResult{}, paymentError(err)
	}

	var promoterID *string
	if quote.Promo != nil {
		promoterID = &quote.Promo.PromoterID
	}

	attempt, err := o.attempts.Create(ctx, entity.PurchaseAttempt{
		AuthorizationID: authorizationID,
		IdempotencyKey:  req.IdempotencyKey,
		EventID:         event.EventID,
		Items:           quote.LineItems(),
		PromoterID:      promoterID,
		CustomerEmail:   req.BuyerEmail,
		Total:           quote.Total,
		Status:          entity.AttemptStatusPending,
		CreatedAt:       req.Now,
		UpdatedAt:       req.Now,
	})
	if err != nil {
		return o.unstored(ctx, req, authorizationID, err)
	}

	return o.resume(ctx, attempt, req.Now)
}

// unstored handles an authorization whose attempt could not be stored. The
// authorization is voided only once it is certain no attempt refers to it.
func (o *Orchestrator) unstored(ctx context.Context, req PurchaseRequest, authorizationID string, cause error) (PurchaseResult, error) {
	stored, err := o.attempts.Get(ctx, authorizationID)
	switch {
	case err == nil:
		return o.resume(ctx, stored, req.Now)
	case !errors.Is(err, ErrNotFound):
		return PurchaseResult{}, fmt.Errorf("storing purchase attempt: %w", errors.Join(cause, err))
	}

	o.abandon(ctx, authorizationID)

	// A concurrent request with the same key may have stored its attempt first.
	existing, err := o.attempts.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil && sameOrder(existing, req) {
		return o.resume(ctx, existing, req.Now)
	}

	return PurchaseResult{}, fmt.Errorf("storing purchase attempt: %w", cause)
}

// abandon voids an authorization no attempt refers to.
func (o *Orchestrator) abandon(ctx context.Context, authorizationID string) {
	logger := log.FromContext(ctx).WithField("authorization_id", authorizationID)

	err := o.payments.Void(ctx, authorizationID)
	if err == nil {
		return
	}
	logger.WithError(err).Warn("Voiding unrecorded authorization failed, scheduling a retry")

	if err := o.voids.ScheduleVoid(ctx, authorizationID, VoidReasonNotStored); err != nil {
		logger.WithError(err).Error("Could not schedule void of unrecorded authorization")
	}
}

// sameOrder reports whether req asks for what attempt already bought.
func sameOrder(attempt entity.PurchaseAttempt, req PurchaseRequest) bool {
	if attempt.EventID != req.EventID {
		return false
	}

	merged, err := mergeItems(req.Items)
	if err != nil || len(merged) != len(attempt.Items) {
		return false
	}

	bought := make(map[string]uint, len(attempt.Items))
	for _, item := range attempt.Items {
		bought[item.CategoryID] = item.Quantity
	}
	for _, item := range merged {
		if bought[item.CategoryID] != item.Quantity {
			return false
		}
	}

	return true
}

// ConfirmPayment is called when the processor reports that an authorization
// was captured. It may be called any number of times for one authorization.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, p Principal, authorizationID string, now time.Time) (PurchaseResult, error) {
	if err := o.authorizer.Authorize(p, CapabilityConfirmPayment, ""); err != nil {
		return PurchaseResult{}, err
	}

	attempt, err := o.attempts.Get(ctx, authorizationID)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("getting purchase attempt: %w", err)
	}

	switch attempt.Status {
	case entity.AttemptStatusPending:
		return o.issue(ctx, attempt.AuthorizationID, now)
	case entity.AttemptStatusIssuing:
		return o.reclaim(ctx, attempt, now)
	}

	return o.replay(ctx, attempt)
}

func (o *Orchestrator) resume(ctx context.Context, attempt entity.PurchaseAttempt, now time.Time) (PurchaseResult, error) {
	switch attempt.Status {
	case entity.AttemptStatusPending:
	case entity.AttemptStatusIssuing:
		return o.reclaim(ctx, attempt, now)
	default:
		return o.replay(ctx, attempt)
	}

	if err := o.payments.Confirm(ctx, attempt.AuthorizationID); err != nil {
		var declined *PaymentDeclinedError
		if !errors.As(err, &declined) {
			return PurchaseResult{AuthorizationID: attempt.AuthorizationID}, paymentError(err)
		}

		stored, moved, terr := o.attempts.Transition(ctx, attempt.AuthorizationID, entity.AttemptStatusPending, entity.AttemptStatusDeclined)
		if terr != nil {
			return PurchaseResult{}, fmt.Errorf("marking purchase attempt declined: %w", terr)
		}
		if !moved {
			return o.replay(ctx, stored)
		}

		return PurchaseResult{AuthorizationID: attempt.AuthorizationID}, declined
	}

	return o.issue(ctx, attempt.AuthorizationID, now)
}

func (o *Orchestrator) issue(ctx context.Context, authorizationID string, now time.Time) (PurchaseResult, error) {
	attempt, moved, err := o.attempts.Transition(ctx, authorizationID, entity.AttemptStatusPending, entity.AttemptStatusIssuing)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("claiming purchase attempt: %w", err)
	}
	if !moved {
		return o.replay(ctx, attempt)
	}

	return o.settle(ctx, attempt, now)
}

// reclaim resumes an issuance whose owner stopped before settling it. While
// the owner's lease runs the attempt is reported as in progress.
func (o *Orchestrator) reclaim(ctx context.Context, attempt entity.PurchaseAttempt, now time.Time) (PurchaseResult, error) {
	stored, moved, err := o.attempts.Reclaim(ctx, attempt.AuthorizationID, o.lease)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("reclaiming purchase attempt: %w", err)
	}
	if !moved {
		return o.replay(ctx, stored)
	}

	log.FromContext(ctx).WithField("authorization_id", stored.AuthorizationID).
		WithField("abandoned_at", attempt.UpdatedAt).
		Warn("Resuming an abandoned issuance")

	return o.settle(ctx, stored, now)
}

// settle turns a claimed attempt into tickets, or voids it when the sale can
// no longer be honored. Units held by an earlier, abandoned run are returned
// first.
func (o *Orchestrator) settle(ctx context.Context, attempt entity.PurchaseAttempt, now time.Time) (PurchaseResult, error) {
	logger := log.FromContext(ctx).WithField("authorization_id", attempt.AuthorizationID)

	if err := o.ledger.ReleaseHeld(ctx, attempt.AuthorizationID); err != nil {
		return o.revert(ctx, attempt, fmt.Errorf("releasing held tickets: %w", err))
	}

	event, err := o.events.Get(ctx, attempt.EventID)
	if err != nil {
		return o.revert(ctx, attempt, fmt.Errorf("getting event: %w", err))
	}

	late := o.lateAfter > 0 && now.Sub(attempt.CreatedAt) > o.lateAfter
	if event.Canceled || (late && salesClosed(event, now)) {
		logger.WithField("late", late).Info("Sales closed before the payment was confirmed")
		return o.void(ctx, attempt, VoidReasonSalesClosed, 0, &SalesClosedError{Cutoff: event.SalesCutoff})
	}

	var reservations []Reservation
	for _, item := range attempt.Items {
		r, err := o.ledger.TryReserve(ctx, attempt.AuthorizationID, attempt.EventID, item.CategoryID, item.Quantity)
		if err != nil {
			o.release(ctx, reservations)

			var capacityErr *OutOfCapacityError
			if errors.As(err, &capacityErr) {
				logger.WithError(err).Info("Not enough tickets left for a confirmed payment")
				return o.void(ctx, attempt, VoidReasonSoldOut, capacityErr.Available, capacityErr)
			}

			return o.revert(ctx, attempt, fmt.Errorf("reserving tickets: %w", err))
		}
		reservations = append(reservations, r)
	}

	tickets, err := o.addTickets(ctx, attempt, event, now)
	if err != nil {
		o.release(ctx, reservations)
		return o.revert(ctx, attempt, fmt.Errorf("issuing tickets: %w", err))
	}

	o.recordUsage(ctx, tickets)

	logger.WithField("tickets", len(tickets)).Info("Tickets issued")

	return PurchaseResult{
		AuthorizationID: attempt.AuthorizationID,
		Tickets:         tickets,
		Total:           attempt.Total,
	}, nil
}

func (o *Orchestrator) addTickets(ctx context.Context, attempt entity.PurchaseAttempt, event entity.Event, now time.Time) ([]entity.Ticket, error) {
	var err error
	for i := 0; i < maxCodeAttempts; i++ {
		tickets := buildTickets(attempt, event, now)

		err = o.tickets.AddIssued(ctx, attempt, tickets)
		if err == nil {
			return tickets, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
	}

	return nil, err
}

func buildTickets(attempt entity.PurchaseAttempt, event entity.Event, now time.Time) []entity.Ticket {
	var tickets []entity.Ticket
	for _, item := range attempt.Items {
		for i := uint(0); i < item.Quantity; i++ {
			tickets = append(tickets, entity.Ticket{
				TicketID:        uuid.NewString(),
				Code:            NewTicketCode(attempt.EventID),
				EventID:         attempt.EventID,
				CategoryID:      item.CategoryID,
				CustomerEmail:   attempt.CustomerEmail,
				PromoterID:      attempt.PromoterID,
				AuthorizationID: attempt.AuthorizationID,
				Price: entity.Money{
					Amount:   item.UnitPrice,
					Currency: event.Currency,
				},
				IssuedAt: now,
			})
		}
	}
	return tickets
}

func (o *Orchestrator) recordUsage(ctx context.Context, tickets []entity.Ticket) {
	for _, t := range tickets {
		if t.PromoterID == nil {
			continue
		}
		if err := o.usage.Increment(ctx, t.EventID, *t.PromoterID, t.CategoryID); err != nil {
			log.FromContext(ctx).WithError(err).WithField("ticket_id", t.TicketID).Warn("Failed to record promo usage")
		}
	}
}

func (o *Orchestrator) release(ctx context.Context, reservations []Reservation) {
	var tokens []string
	for _, r := range reservations {
		tokens = append(tokens, r.Tokens...)
	}
	if len(tokens) == 0 {
		return
	}

	if err := o.ledger.Release(ctx, tokens...); err != nil {
		log.FromContext(ctx).WithError(err).Error("Failed to release reservations")
	}
}

// void settles the attempt as voided, then reverses the authorization. The
// voided status is stored together with a queued void, so a failed call to
// the processor here is retried asynchronously.
func (o *Orchestrator) void(ctx context.Context, attempt entity.PurchaseAttempt, reason string, available uint, cause error) (PurchaseResult, error) {
	if err := o.attempts.MarkVoided(ctx, attempt, reason, available); err != nil {
		return o.revert(ctx, attempt, fmt.Errorf("marking purchase attempt voided: %w", err))
	}

	if err := o.payments.Void(ctx, attempt.AuthorizationID); err != nil {
		log.FromContext(ctx).WithError(err).WithField("authorization_id", attempt.AuthorizationID).
			Warn("Voiding authorization failed, leaving it to the queued void")
	}

	return PurchaseResult{AuthorizationID: attempt.AuthorizationID}, cause
}

// revert hands the attempt back to pending so a retried confirmation can
// issue it.
func (o *Orchestrator) revert(ctx context.Context, attempt entity.PurchaseAttempt, cause error) (PurchaseResult, error) {
	if err := o.attempts.Unclaim(ctx, attempt); err != nil {
		return PurchaseResult{}, errors.Join(cause, fmt.Errorf("reverting purchase attempt: %w", err))
	}

	return PurchaseResult{AuthorizationID: attempt.AuthorizationID}, cause
}

func (o *Orchestrator) replay(ctx context.Context, attempt entity.PurchaseAttempt) (PurchaseResult, error) {
	result := PurchaseResult{
		AuthorizationID: attempt.AuthorizationID,
		Total:           attempt.Total,
		Replayed:        true,
	}

	switch attempt.Status {
	case entity.AttemptStatusIssued:
		tickets, err := o.tickets.ListByAuthorization(ctx, attempt.AuthorizationID)
		if err != nil {
			return PurchaseResult{}, fmt.Errorf("listing issued tickets: %w", err)
		}
		result.Tickets = tickets
		return result, nil
	case entity.AttemptStatusIssuing:
		return result, ErrPurchaseInProgress
	case entity.AttemptStatusDeclined:
		return result, &PaymentDeclinedError{}
	case entity.AttemptStatusVoided:
		if attempt.VoidReason == VoidReasonSalesClosed {
			closed := &SalesClosedError{}
			if event, err := o.events.Get(ctx, attempt.EventID); err == nil {
				closed.Cutoff = event.SalesCutoff
			}
			return result, closed
		}
		return result, &OutOfCapacityError{Available: attempt.Available, Requested: totalQuantity(attempt.Items)}
	}

	return PurchaseResult{}, fmt.Errorf("purchase attempt %s has unexpected status %q", attempt.AuthorizationID, attempt.Status)
}

func salesClosed(event entity.Event, now time.Time) bool {
	return event.Canceled || now.After(event.SalesCutoff)
}

func paymentError(err error) error {
	var declined *PaymentDeclinedError
	if errors.As(err, &declined) {
		return declined
	}
	return &PaymentProcessorError{Err: err}
}

func totalQuantity(items []entity.LineItem) uint {
	var total uint
	for _, i := range items {
		total += i.Quantity
	}
	return total
}
