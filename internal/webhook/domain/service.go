package domain

import (
	"context"
	"net/http"
)

// Service ingests provider webhooks: verify, claim, dispatch, settle.
type Service interface {
	IngestEvent(ctx context.Context, payload []byte, headers http.Header) error
}
