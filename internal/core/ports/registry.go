package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

type KeyRepository interface {
	CreateKey(ctx context.Context, key domain.Key) (domain.Key, error)
	FindKey(ctx context.Context, organization, code string) (domain.Key, error)
	ListKeys(ctx context.Context, organization string, filter domain.ListFilter) ([]domain.Key, error)
	UpdateKeyName(ctx context.Context, organization, code, name string, at time.Time) (domain.Key, error)
	DeleteKey(ctx context.Context, organization, code string) error
}

type KeyCardRepository interface {
	CreateKeyCard(ctx context.Context, card domain.KeyCard) (domain.KeyCard, error)
	FindKeyCard(ctx context.Context, organization, code string) (domain.KeyCard, error)
	ListKeyCards(ctx context.Context, organization string, filter domain.ListFilter) ([]domain.KeyCard, error)
	UpdateKeyCardName(ctx context.Context, organization, code, name string, at time.Time) (domain.KeyCard, error)
}

// CustodyRepository is append-only: there is no way to change or drop an event.
type CustodyRepository interface {
	Append(ctx context.Context, event domain.CustodyEvent) (domain.CustodyEvent, error)
	ListByKey(ctx context.Context, organization, keyID string) ([]domain.CustodyEvent, error)
}
