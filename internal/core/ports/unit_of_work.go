package ports

import "context"

// Stores are repository handles bound to one transaction.
type Stores struct {
	Keys     KeyRepository
	KeyCards KeyCardRepository
	Custody  CustodyRepository
	Events   EventLog
}

// UnitOfWork runs fn inside a transaction. Write commits only when fn
// returns nil; Read sees committed data only.
type UnitOfWork interface {
	Read(ctx context.Context, fn func(Stores) error) error
	Write(ctx context.Context, fn func(Stores) error) error
}
