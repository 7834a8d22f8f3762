package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
	"github.com/atvirokodosprendimai/keyledger/internal/idx"
)

const keyCardPageSize = 500

type AddKeyCardRequest struct {
	Code         string
	Organization string
	Name         string
}

type UpdateKeyCardRequest struct {
	Code         string
	Organization string
	Name         string
}

type KeyCardService struct {
	uow   ports.UnitOfWork
	codes *domain.CodeValidator
	inst  instrumentation
}

func NewKeyCardService(uow ports.UnitOfWork, codes *domain.CodeValidator, observer ports.OperationObserver) *KeyCardService {
	return &KeyCardService{uow: uow, codes: codes, inst: instrumentation{observer: observer}}
}

// GetKeyCards looks a card up by code. Codes are unique per organization, so
// a code yields zero or one card; an empty code returns every card of the
// organization, read page by page.
func (s *KeyCardService) GetKeyCards(ctx context.Context, code, organization string) (cards []domain.KeyCard, err error) {
	ctx, done := s.inst.start(ctx, "GetKeyCards", organization, code)
	defer done(&err)

	if err := domain.ValidateOrganization(organization); err != nil {
		return nil, err
	}
	if code != "" {
		if err := s.codes.Validate(code); err != nil {
			return nil, err
		}
	}

	err = s.uow.Read(ctx, func(st ports.Stores) error {
		if code == "" {
			cards, err = allKeyCards(ctx, st.KeyCards, organization)
			return err
		}
		card, err := st.KeyCards.FindKeyCard(ctx, organization, code)
		if errors.Is(err, domain.ErrNotFound) {
			cards = []domain.KeyCard{}
			return nil
		}
		if err != nil {
			return err
		}
		cards = []domain.KeyCard{card}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// ListKeyCards pages through the organization's cards in code order.
func (s *KeyCardService) ListKeyCards(ctx context.Context, organization string, filter domain.ListFilter) (cards []domain.KeyCard, err error) {
	ctx, done := s.inst.start(ctx, "ListKeyCards", organization, filter.Prefix)
	defer done(&err)

	if err := domain.ValidateOrganization(organization); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	filter.Limit = clampLimit(filter.Limit)

	err = s.uow.Read(ctx, func(st ports.Stores) error {
		cards, err = st.KeyCards.ListKeyCards(ctx, organization, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *KeyCardService) AddKeyCard(ctx context.Context, req AddKeyCardRequest, meta domain.MutationMetadata) (card domain.KeyCard, err error) {
	ctx, done := s.inst.start(ctx, "AddKeyCard", req.Organization, req.Code)
	defer done(&err)

	if err := domain.ValidateOrganization(req.Organization); err != nil {
		return domain.KeyCard{}, err
	}
	if err := s.codes.Validate(req.Code); err != nil {
		return domain.KeyCard{}, err
	}
	if err := domain.ValidateName(req.Name, false); err != nil {
		return domain.KeyCard{}, err
	}
	meta = meta.Normalize()

	err = s.uow.Write(ctx, func(st ports.Stores) error {
		created, err := st.KeyCards.CreateKeyCard(ctx, domain.KeyCard{
			ID:           idx.NewAt(meta.OccurredAt),
			Organization: req.Organization,
			Code:         req.Code,
			Name:         req.Name,
			CreatedAt:    meta.OccurredAt,
			UpdatedAt:    meta.OccurredAt,
		})
		if err != nil {
			return err
		}
		card = created

		_, err = st.Events.Record(ctx, domain.Mutation{
			EventType:     domain.EventKeyCardCreated,
			Organization:  req.Organization,
			AggregateType: domain.AggregateKeyCard,
			AggregateID:   created.ID,
			After:         newKeyCardSnapshot(created),
			Payload:       newKeyCardSnapshot(created),
			Meta:          meta,
		})
		return err
	})
	if err != nil {
		return domain.KeyCard{}, err
	}
	return card, nil
}

// UpdateKeyCard renames a card. The code is immutable and is not checked
// against the current pattern again.
func (s *KeyCardService) UpdateKeyCard(ctx context.Context, req UpdateKeyCardRequest, meta domain.MutationMetadata) (card domain.KeyCard, err error) {
	ctx, done := s.inst.start(ctx, "UpdateKeyCard", req.Organization, req.Code)
	defer done(&err)

	if err := domain.ValidateOrganization(req.Organization); err != nil {
		return domain.KeyCard{}, err
	}
	if req.Code == "" {
		return domain.KeyCard{}, domain.ErrKeyCardNotFound
	}
	if err := domain.ValidateName(req.Name, false); err != nil {
		return domain.KeyCard{}, err
	}
	meta = meta.Normalize()

	err = s.uow.Write(ctx, func(st ports.Stores) error {
		before, err := st.KeyCards.FindKeyCard(ctx, req.Organization, req.Code)
		if err != nil {
			return err
		}
		if before.Name == req.Name {
			card = before
			return nil
		}
		updated, err := st.KeyCards.UpdateKeyCardName(ctx, req.Organization, req.Code, req.Name, meta.OccurredAt)
		if err != nil {
			return err
		}
		card = updated

		_, err = st.Events.Record(ctx, domain.Mutation{
			EventType:     domain.EventKeyCardRenamed,
			Organization:  req.Organization,
			AggregateType: domain.AggregateKeyCard,
			AggregateID:   updated.ID,
			Before:        newKeyCardSnapshot(before),
			After:         newKeyCardSnapshot(updated),
			Payload:       newKeyCardSnapshot(updated),
			Meta:          meta,
		})
		return err
	})
	if err != nil {
		return domain.KeyCard{}, err
	}
	return card, nil
}

func allKeyCards(ctx context.Context, repo ports.KeyCardRepository, organization string) ([]domain.KeyCard, error) {
	all := []domain.KeyCard{}
	filter := domain.ListFilter{Limit: keyCardPageSize}
	for {
		page, err := repo.ListKeyCards(ctx, organization, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < filter.Limit {
			return all, nil
		}
		filter.After = page[len(page)-1].Code
	}
}

type keyCardSnapshot struct {
	ID           string    `json:"id"`
	Organization string    `json:"organization"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newKeyCardSnapshot(c domain.KeyCard) keyCardSnapshot {
	return keyCardSnapshot{
		ID:           c.ID,
		Organization: c.Organization,
		Code:         c.Code,
		Name:         c.Name,
		UpdatedAt:    c.UpdatedAt,
	}
}
