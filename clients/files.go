package clients

import (
	"context"
	"fmt"
	"net/http"

	"guestlist/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/clients"
	"github.com/ThreeDotsLabs/go-event-driven/common/clients/files"
	"github.com/ThreeDotsLabs/go-event-driven/common/log"
)

const printTicketFileTemplate = `<html><body>
Ticket code: %s
Event: %s
Category: %s
Price: %s
</body></html>`

type FilesClient struct {
	client files.ClientWithResponsesInterface
}

func NewFilesClient(c *clients.Clients) FilesClient {
	return FilesClient{
		client: c.Files,
	}
}

// GenerateTicket uploads the printable ticket and returns its file id. The id
// is derived from the ticket id, so a repeated upload is accepted.
func (c FilesClient) GenerateTicket(ctx context.Context, ticket entity.Ticket) (string, error) {
	fileID := fmt.Sprintf("%s-ticket.html", ticket.TicketID)
	fileContent := fmt.Sprintf(printTicketFileTemplate, ticket.Code, ticket.EventID, ticket.CategoryID, ticket.Price)

	res, err := c.client.PutFilesFileIdContentWithTextBodyWithResponse(ctx, fileID, fileContent)
	if err != nil {
		return "", fmt.Errorf("put file request: %w", err)
	}

	if res.StatusCode() == http.StatusConflict {
		log.FromContext(ctx).Infof("file %s already exists", fileID)
		return fileID, nil
	}

	if res.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", res.StatusCode())
	}

	return fileID, nil
}
