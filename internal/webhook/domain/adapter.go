package domain

import (
	"context"
	"net/http"
)

// Adapter verifies and translates one provider's webhook payloads into
// canonical events. Parse returns ErrEventIgnored for event types the
// billing core does not react to.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}
