package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
	"github.com/atvirokodosprendimai/keyledger/internal/idx"
)

// KeyPolicy holds organization independent rules for key custody.
type KeyPolicy struct {
	// RequireEvidence rejects a give without a signature reference.
	RequireEvidence bool
}

type AddKeyRequest struct {
	Code         string
	Organization string
	Name         string
}

type UpdateKeyRequest struct {
	Code         string
	Organization string
	Name         string
}

type GiveKeyRequest struct {
	Code         string
	Organization string
	EvidenceRef  string
	NewHolder    string
	Comment      string
}

type ReceiveKeyRequest struct {
	Code         string
	Organization string
	Holder       string
	Comment      string
}

type ReturnKeyRequest struct {
	Code         string
	Organization string
	Comment      string
}

// KeyService runs every key operation as one unit of work over the
// registry, the custody ledger and the event log.
type KeyService struct {
	uow    ports.UnitOfWork
	codes  *domain.CodeValidator
	ledger *CustodyLedger
	policy KeyPolicy
	inst   instrumentation
}

func NewKeyService(uow ports.UnitOfWork, codes *domain.CodeValidator, ledger *CustodyLedger, policy KeyPolicy, observer ports.OperationObserver) *KeyService {
	return &KeyService{
		uow:    uow,
		codes:  codes,
		ledger: ledger,
		policy: policy,
		inst:   instrumentation{observer: observer},
	}
}

func (s *KeyService) GetKey(ctx context.Context, code, organization string) (status domain.KeyStatus, err error) {
	ctx, done := s.inst.start(ctx, "GetKey", organization, code)
	defer done(&err)

	if err := s.validateRef(code, organization); err != nil {
		return domain.KeyStatus{}, err
	}

	err = s.uow.Read(ctx, func(st ports.Stores) error {
		key, err := st.Keys.FindKey(ctx, organization, code)
		if err != nil {
			return err
		}
		state, err := s.ledger.State(ctx, st.Custody, key, organization)
		if err != nil {
			return err
		}
		status = domain.KeyStatus{Key: key, Custody: state}
		return nil
	})
	if err != nil {
		return domain.KeyStatus{}, err
	}
	return status, nil
}

func (s *KeyService) ListKeys(ctx context.Context, organization string, filter domain.ListFilter) (result []domain.KeyStatus, err error) {
	ctx, done := s.inst.start(ctx, "ListKeys", organization, filter.Prefix)
	defer done(&err)

	if err := domain.ValidateOrganization(organization); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	filter.Limit = clampLimit(filter.Limit)

	err = s.uow.Read(ctx, func(st ports.Stores) error {
		keys, err := st.Keys.ListKeys(ctx, organization, filter)
		if err != nil {
			return err
		}
		result = make([]domain.KeyStatus, 0, len(keys))
		for _, key := range keys {
			state, err := s.ledger.State(ctx, st.Custody, key, organization)
			if err != nil {
				return err
			}
			result = append(result, domain.KeyStatus{Key: key, Custody: state})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *KeyService) AddKey(ctx context.Context, req AddKeyRequest, meta domain.MutationMetadata) (status domain.KeyStatus, err error) {
	ctx, done := s.inst.start(ctx, "AddKey", req.Organization, req.Code)
	defer done(&err)

	if err := s.validateRef(req.Code, req.Organization); err != nil {
		return domain.KeyStatus{}, err
	}
	if err := domain.ValidateName(req.Name, false); err != nil {
		return domain.KeyStatus{}, err
	}
	meta = meta.Normalize()

	err = s.uow.Write(ctx, func(st ports.Stores) error {
		created, err := st.Keys.CreateKey(ctx, domain.Key{
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
		status = domain.KeyStatus{Key: created, Custody: domain.NewCustodyState(created)}

		_, err = st.Events.Record(ctx, domain.Mutation{
			EventType:     domain.EventKeyCreated,
			Organization:  req.Organization,
			AggregateType: domain.AggregateKey,
			AggregateID:   created.ID,
			After:         newKeySnapshot(status),
			Payload:       newKeySnapshot(status),
			Meta:          meta,
		})
		return err
	})
	if err != nil {
		return domain.KeyStatus{}, err
	}
	return status, nil
}

func (s *KeyService) UpdateKey(ctx context.Context, req UpdateKeyRequest, meta domain.MutationMetadata) (status domain.KeyStatus, err error) {
	ctx, done := s.inst.start(ctx, "UpdateKey", req.Organization, req.Code)
	defer done(&err)

	if err := s.validateLookup(req.Code, req.Organization); err != nil {
		return domain.KeyStatus{}, err
	}
	if err := domain.ValidateName(req.Name, true); err != nil {
		return domain.KeyStatus{}, err
	}
	meta = meta.Normalize()

	err = s.uow.Write(ctx, func(st ports.Stores) error {
		key, err := st.Keys.FindKey(ctx, req.Organization, req.Code)
		if err != nil {
			return err
		}
		state, err := s.ledger.State(ctx, st.Custody, key, req.Organization)
		if err != nil {
			return err
		}
		before := domain.KeyStatus{Key: key, Custody: state}
		if key.Name == req.Name {
			status = before
			return nil
		}

		updated, err := st.Keys.UpdateKeyName(ctx, req.Organization, req.Code, req.Name, meta.OccurredAt)
		if err != nil {
			return err
		}
		status = domain.KeyStatus{Key: updated, Custody: state}

		_, err = st.Events.Record(ctx, domain.Mutation{
			EventType:     domain.EventKeyRenamed,
			Organization:  req.Organization,
			AggregateType: domain.AggregateKey,
			AggregateID:   key.ID,
			Before:        newKeySnapshot(before),
			After:         newKeySnapshot(status),
			Payload:       newKeySnapshot(status),
			Meta:          meta,
		})
		return err
	})
	if err != nil {
		return domain.KeyStatus{}, err
	}
	return status, nil
}

// RemoveKey deletes a key that nobody holds. A held key, including one with
// an unconfirmed give, has to be returned first; removal never forces a
// return. The custody history stays in the ledger.
func (s *KeyService) RemoveKey(ctx context.Context, code, organization string, meta domain.MutationMetadata) (err error) {
	ctx, done := s.inst.start(ctx, "RemoveKey", organization, code)
	defer done(&err)

	if err := s.validateLookup(code, organization); err != nil {
		return err
	}
	meta = meta.Normalize()

	return s.uow.Write(ctx, func(st ports.Stores) error {
		key, err := st.Keys.FindKey(ctx, organization, code)
		if err != nil {
			return err
		}
		state, err := s.ledger.State(ctx, st.Custody, key, organization)
		if err != nil {
			return err
		}
		if err := state.CheckRemovable(); err != nil {
			return err
		}
		if err := st.Keys.DeleteKey(ctx, organization, code); err != nil {
			return err
		}

		before := newKeySnapshot(domain.KeyStatus{Key: key, Custody: state})
		_, err = st.Events.Record(ctx, domain.Mutation{
			EventType:     domain.EventKeyRemoved,
			Organization:  organization,
			AggregateType: domain.AggregateKey,
			AggregateID:   key.ID,
			Before:        before,
			Payload:       before,
			Meta:          meta,
		})
		return err
	})
}

func (s *KeyService) GiveKey(ctx context.Context, req GiveKeyRequest, meta domain.MutationMetadata) (event domain.CustodyEvent, err error) {
	ctx, done := s.inst.start(ctx, "GiveKey", req.Organization, req.Code)
	defer done(&err)

	if err := s.validateLookup(req.Code, req.Organization); err != nil {
		return domain.CustodyEvent{}, err
	}
	if s.policy.RequireEvidence && req.EvidenceRef == "" {
		return domain.CustodyEvent{}, domain.ErrEvidenceRequired
	}

	return s.custody(ctx, req.Code, req.Organization, domain.EventKeyGiven, meta, func(st ports.Stores, key domain.Key, actor string) (Transition, error) {
		return s.ledger.Give(ctx, st.Custody, key, req.Organization, Handoff{
			Holder:      req.NewHolder,
			EvidenceRef: req.EvidenceRef,
			Comment:     req.Comment,
			Actor:       actor,
		})
	})
}

func (s *KeyService) ReceiveKey(ctx context.Context, req ReceiveKeyRequest, meta domain.MutationMetadata) (event domain.CustodyEvent, err error) {
	ctx, done := s.inst.start(ctx, "ReceiveKey", req.Organization, req.Code)
	defer done(&err)

	if err := s.validateLookup(req.Code, req.Organization); err != nil {
		return domain.CustodyEvent{}, err
	}

	return s.custody(ctx, req.Code, req.Organization, domain.EventKeyReceived, meta, func(st ports.Stores, key domain.Key, actor string) (Transition, error) {
		return s.ledger.Receive(ctx, st.Custody, key, req.Organization, Handoff{
			Holder:  req.Holder,
			Comment: req.Comment,
			Actor:   actor,
		})
	})
}

func (s *KeyService) ReturnKey(ctx context.Context, req ReturnKeyRequest, meta domain.MutationMetadata) (event domain.CustodyEvent, err error) {
	ctx, done := s.inst.start(ctx, "ReturnKey", req.Organization, req.Code)
	defer done(&err)

	if err := s.validateLookup(req.Code, req.Organization); err != nil {
		return domain.CustodyEvent{}, err
	}

	return s.custody(ctx, req.Code, req.Organization, domain.EventKeyReturned, meta, func(st ports.Stores, key domain.Key, actor string) (Transition, error) {
		return s.ledger.Return(ctx, st.Custody, key, req.Organization, Handoff{
			Comment: req.Comment,
			Actor:   actor,
		})
	})
}

func (s *KeyService) KeyHistory(ctx context.Context, code, organization string) (events []domain.CustodyEvent, err error) {
	ctx, done := s.inst.start(ctx, "KeyHistory", organization, code)
	defer done(&err)

	if err := s.validateLookup(code, organization); err != nil {
		return nil, err
	}

	err = s.uow.Read(ctx, func(st ports.Stores) error {
		key, err := st.Keys.FindKey(ctx, organization, code)
		if err != nil {
			return err
		}
		events, err = s.ledger.History(ctx, st.Custody, key, organization)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// CurrentHolder answers who holds the key right now, "" when it is with the
// organization. A pending give already counts for its target.
func (s *KeyService) CurrentHolder(ctx context.Context, code, organization string) (holder string, err error) {
	ctx, done := s.inst.start(ctx, "CurrentHolder", organization, code)
	defer done(&err)

	if err := s.validateLookup(code, organization); err != nil {
		return "", err
	}

	err = s.uow.Read(ctx, func(st ports.Stores) error {
		key, err := st.Keys.FindKey(ctx, organization, code)
		if err != nil {
			return err
		}
		holder, err = s.ledger.CurrentHolder(ctx, st.Custody, key, organization)
		return err
	})
	if err != nil {
		return "", err
	}
	return holder, nil
}

type custodyStep func(st ports.Stores, key domain.Key, actor string) (Transition, error)

func (s *KeyService) custody(ctx context.Context, code, organization, eventType string, meta domain.MutationMetadata, step custodyStep) (domain.CustodyEvent, error) {
	meta = meta.Normalize()

	var event domain.CustodyEvent
	err := s.uow.Write(ctx, func(st ports.Stores) error {
		key, err := st.Keys.FindKey(ctx, organization, code)
		if err != nil {
			return err
		}
		tr, err := step(st, key, meta.Actor)
		if err != nil {
			return err
		}
		event = tr.Event

		eventMeta := meta
		eventMeta.OccurredAt = tr.Event.OccurredAt
		_, err = st.Events.Record(ctx, domain.Mutation{
			EventType:     eventType,
			Organization:  organization,
			AggregateType: domain.AggregateKey,
			AggregateID:   key.ID,
			Before:        newKeySnapshot(domain.KeyStatus{Key: key, Custody: tr.Before}),
			After:         newKeySnapshot(domain.KeyStatus{Key: key, Custody: tr.After}),
			Payload:       newCustodySnapshot(tr.Event),
			Meta:          eventMeta,
		})
		return err
	})
	if err != nil {
		return domain.CustodyEvent{}, err
	}
	return event, nil
}

func (s *KeyService) validateRef(code, organization string) error {
	if err := domain.ValidateOrganization(organization); err != nil {
		return err
	}
	return s.codes.Validate(code)
}

// validateLookup guards operations on keys that already exist. Their code
// was checked when the key was added; the pattern may have changed since,
// so only the registry decides whether the key is there.
func (s *KeyService) validateLookup(code, organization string) error {
	if err := domain.ValidateOrganization(organization); err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return domain.ErrKeyNotFound
	}
	return nil
}

type keySnapshot struct {
	ID           string    `json:"id"`
	Organization string    `json:"organization"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Holder       string    `json:"holder"`
	Pending      bool      `json:"pending"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newKeySnapshot(s domain.KeyStatus) keySnapshot {
	return keySnapshot{
		ID:           s.Key.ID,
		Organization: s.Key.Organization,
		Code:         s.Key.Code,
		Name:         s.Key.Name,
		Holder:       s.Custody.Holder,
		Pending:      s.Custody.Pending,
		UpdatedAt:    s.Key.UpdatedAt,
	}
}

type custodySnapshot struct {
	ID          string    `json:"id"`
	KeyID       string    `json:"key_id"`
	KeyCode     string    `json:"key_code"`
	Kind        string    `json:"kind"`
	FromHolder  string    `json:"from_holder"`
	ToHolder    string    `json:"to_holder"`
	EvidenceRef string    `json:"evidence_ref,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func newCustodySnapshot(ev domain.CustodyEvent) custodySnapshot {
	return custodySnapshot{
		ID:          ev.ID,
		KeyID:       ev.KeyID,
		KeyCode:     ev.KeyCode,
		Kind:        string(ev.Kind),
		FromHolder:  ev.FromHolder,
		ToHolder:    ev.ToHolder,
		EvidenceRef: ev.EvidenceRef,
		Comment:     ev.Comment,
		OccurredAt:  ev.OccurredAt,
	}
}
