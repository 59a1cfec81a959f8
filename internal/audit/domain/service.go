package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Entry struct {
	UserID     snowflake.ID
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
}

// Service writes audit entries. Record is best-effort; callers never fail
// a billing mutation because the audit insert did.
type Service interface {
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, filter ListFilter) ([]*AuditLog, error)
}
