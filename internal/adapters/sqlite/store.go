package sqlite

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/keyledger/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
)

// Store is the sqlite unit of work. Repositories handed to the callback are
// bound to the transaction and must not escape it.
type Store struct {
	db *gormsqlite.DB
}

func NewStore(db *gormsqlite.DB) *Store {
	return &Store{db: db}
}

var _ ports.UnitOfWork = (*Store)(nil)

func (s *Store) Read(ctx context.Context, fn func(ports.Stores) error) error {
	return s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return fn(bind(tx.DB))
	})
}

func (s *Store) Write(ctx context.Context, fn func(ports.Stores) error) error {
	return s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return fn(bind(tx.DB))
	})
}

func bind(tx *gorm.DB) ports.Stores {
	return ports.Stores{
		Keys:     &keyRepository{db: tx},
		KeyCards: &keyCardRepository{db: tx},
		Custody:  &custodyRepository{db: tx},
		Events:   &eventLog{db: tx},
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
