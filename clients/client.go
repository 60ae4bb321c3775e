package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/clients"
	"github.com/ThreeDotsLabs/go-event-driven/common/log"
)

const userAgent = "guestlist"

// NewGateway returns the generated clients of the files, receipts and
// payments gateway. Requests give up after timeout and carry the correlation
// id of their context.
func NewGateway(gatewayAddress string, timeout time.Duration) (*clients.Clients, error) {
	httpClient := &http.Client{Timeout: timeout}

	c, err := clients.NewClientsWithHttpClient(gatewayAddress, func(ctx context.Context, req *http.Request) error {
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Correlation-ID", log.CorrelationIDFromContext(ctx))
		return nil
	}, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating gateway client for %s: %w", gatewayAddress, err)
	}

	return c, nil
}
