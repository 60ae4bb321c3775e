package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"guestlist/ticketing"

	"github.com/ThreeDotsLabs/go-event-driven/common/clients"
	"github.com/ThreeDotsLabs/go-event-driven/common/clients/payments"
	"github.com/ThreeDotsLabs/go-event-driven/common/log"
)

// PaymentProcessor authorizes and captures card payments through the
// processor's HTTP API. Voids go through the gateway refunds API, which
// reverses an uncaptured authorization.
type PaymentProcessor struct {
	baseURL *url.URL
	http    *http.Client
	refunds payments.ClientWithResponsesInterface
}

func NewPaymentProcessor(baseURL string, c *clients.Clients) (PaymentProcessor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return PaymentProcessor{}, fmt.Errorf("parsing payments address: %w", err)
	}

	p := PaymentProcessor{
		baseURL: u,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	if c != nil {
		p.refunds = c.Payments
	}

	return p, nil
}

type authorizeRequest struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
}

type authorizeResponse struct {
	AuthorizationID string `json:"authorization_id"`
}

type declineResponse struct {
	Reason string `json:"reason"`
}

func (p PaymentProcessor) Authorize(ctx context.Context, req ticketing.AuthorizationRequest) (string, error) {
	body := authorizeRequest{
		Amount:        req.Amount.Amount.StringFixed(2),
		Currency:      req.Amount.Currency,
		PaymentMethod: req.PaymentMethod,
	}

	var res authorizeResponse
	if err := p.post(ctx, "/authorizations", req.IdempotencyKey, body, &res); err != nil {
		return "", fmt.Errorf("authorizing payment: %w", err)
	}
	if res.AuthorizationID == "" {
		return "", fmt.Errorf("authorizing payment: empty authorization id")
	}

	return res.AuthorizationID, nil
}

func (p PaymentProcessor) Confirm(ctx context.Context, authorizationID string) error {
	path := "/authorizations/" + url.PathEscape(authorizationID) + "/capture"
	if err := p.post(ctx, path, "capture-"+authorizationID, nil, nil); err != nil {
		return fmt.Errorf("capturing payment: %w", err)
	}

	return nil
}

func (p PaymentProcessor) Void(ctx context.Context, authorizationID string) error {
	if p.refunds == nil {
		return fmt.Errorf("voiding payment %s: refunds client not configured", authorizationID)
	}

	deduplicationID := "void-" + authorizationID
	res, err := p.refunds.PutRefundsWithResponse(ctx, payments.PaymentRefundRequest{
		PaymentReference: authorizationID,
		Reason:           "authorization voided",
		DeduplicationId:  &deduplicationID,
	})
	if err != nil {
		return fmt.Errorf("put refund request: %w", err)
	}

	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", res.StatusCode())
	}

	return nil
}

func (p PaymentProcessor) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL.JoinPath(path).String(), &payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	req.Header.Set("Correlation-ID", log.CorrelationIDFromContext(ctx))

	res, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusPaymentRequired:
		var decline declineResponse
		_ = json.NewDecoder(res.Body).Decode(&decline)
		return &ticketing.PaymentDeclinedError{Reason: decline.Reason}
	case res.StatusCode >= 300:
		return fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("unmarshalling response: %w", err)
	}

	return nil
}
