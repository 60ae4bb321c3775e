package ticketing

import (
	"strings"

	"github.com/lithammer/shortuuid/v3"
)

const (
	codePrefixLength = 4
	codeSuffixLength = 10
)

// NewTicketCode returns a URL-safe code: a short prefix taken from the event
// id followed by a random base57 suffix.
func NewTicketCode(eventID string) string {
	prefix := strings.ToUpper(strings.ReplaceAll(eventID, "-", ""))
	if len(prefix) > codePrefixLength {
		prefix = prefix[:codePrefixLength]
	}

	suffix := shortuuid.New()
	suffix = suffix[len(suffix)-codeSuffixLength:]

	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}
