package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
	"github.com/atvirokodosprendimai/keyledger/internal/idx"
)

// Handoff carries the caller supplied part of a custody event.
type Handoff struct {
	Holder      string
	EvidenceRef string
	Comment     string
	Actor       string
}

// Transition is an accepted custody event with the state on both sides.
type Transition struct {
	Event  domain.CustodyEvent
	Before domain.CustodyState
	After  domain.CustodyState
}

// CustodyLedger appends custody events and folds them into the current
// holder. It holds no state of its own; every call works on the repository
// it is given, which is expected to be bound to the caller's transaction.
type CustodyLedger struct {
	clock func() time.Time
}

func NewCustodyLedger(clock func() time.Time) *CustodyLedger {
	if clock == nil {
		clock = time.Now
	}
	return &CustodyLedger{clock: clock}
}

func (l *CustodyLedger) State(ctx context.Context, repo ports.CustodyRepository, key domain.Key, organization string) (domain.CustodyState, error) {
	if key.ID == "" {
		return domain.CustodyState{}, domain.ErrKeyNotFound
	}
	if key.Organization != organization {
		return domain.CustodyState{}, domain.ErrCrossTenant
	}
	events, err := repo.ListByKey(ctx, organization, key.ID)
	if err != nil {
		return domain.CustodyState{}, fmt.Errorf("load custody events: %w", err)
	}
	return domain.FoldCustody(key, events)
}

// CurrentHolder returns the holder, or "" when the key is unassigned.
func (l *CustodyLedger) CurrentHolder(ctx context.Context, repo ports.CustodyRepository, key domain.Key, organization string) (string, error) {
	state, err := l.State(ctx, repo, key, organization)
	if err != nil {
		return "", err
	}
	return state.Holder, nil
}

func (l *CustodyLedger) History(ctx context.Context, repo ports.CustodyRepository, key domain.Key, organization string) ([]domain.CustodyEvent, error) {
	if key.ID == "" {
		return nil, domain.ErrKeyNotFound
	}
	if key.Organization != organization {
		return nil, domain.ErrCrossTenant
	}
	events, err := repo.ListByKey(ctx, organization, key.ID)
	if err != nil {
		return nil, fmt.Errorf("load custody events: %w", err)
	}
	return events, nil
}

func (l *CustodyLedger) Give(ctx context.Context, repo ports.CustodyRepository, key domain.Key, organization string, h Handoff) (Transition, error) {
	return l.transition(ctx, repo, key, organization, h.Actor, func(s domain.CustodyState) (domain.CustodyEvent, error) {
		return s.Give(h.Holder, h.EvidenceRef, h.Comment)
	})
}

func (l *CustodyLedger) Receive(ctx context.Context, repo ports.CustodyRepository, key domain.Key, organization string, h Handoff) (Transition, error) {
	return l.transition(ctx, repo, key, organization, h.Actor, func(s domain.CustodyState) (domain.CustodyEvent, error) {
		return s.Receive(h.Holder, h.Comment)
	})
}

func (l *CustodyLedger) Return(ctx context.Context, repo ports.CustodyRepository, key domain.Key, organization string, h Handoff) (Transition, error) {
	return l.transition(ctx, repo, key, organization, h.Actor, func(s domain.CustodyState) (domain.CustodyEvent, error) {
		return s.Return(h.Comment)
	})
}

func (l *CustodyLedger) transition(
	ctx context.Context,
	repo ports.CustodyRepository,
	key domain.Key,
	organization, actor string,
	decide func(domain.CustodyState) (domain.CustodyEvent, error),
) (Transition, error) {
	before, err := l.State(ctx, repo, key, organization)
	if err != nil {
		return Transition{}, err
	}
	event, err := decide(before)
	if err != nil {
		return Transition{}, err
	}

	event.OccurredAt = before.NextTimestamp(l.clock())
	event.ID = idx.NewAt(event.OccurredAt)
	event.KeyCode = key.Code
	event.Actor = actor

	stored, err := repo.Append(ctx, event)
	if err != nil {
		return Transition{}, fmt.Errorf("append custody event: %w", err)
	}
	after, err := before.Apply(stored)
	if err != nil {
		return Transition{}, err
	}
	return Transition{Event: stored, Before: before, After: after}, nil
}
