package ports

import (
	"context"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

// EventLog records a mutation in the audit trail and the outbox.
type EventLog interface {
	Record(ctx context.Context, mutation domain.Mutation) (domain.EventEnvelope, error)
}

type AuditTrailRepository interface {
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error)
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}
