package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
)

// memStore is an in-memory UnitOfWork. Write works on a copy of the state
// and swaps it in only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state memState

	// failRecord makes the event log fail, to prove rollback.
	failRecord error
}

type memState struct {
	keys     map[string]domain.Key
	cards    map[string]domain.KeyCard
	custody  []domain.CustodyEvent
	mutation []domain.Mutation
	seq      int64
}

func newMemStore() *memStore {
	return &memStore{state: memState{keys: map[string]domain.Key{}, cards: map[string]domain.KeyCard{}}}
}

func (s memState) clone() memState {
	out := memState{
		keys:     make(map[string]domain.Key, len(s.keys)),
		cards:    make(map[string]domain.KeyCard, len(s.cards)),
		custody:  append([]domain.CustodyEvent(nil), s.custody...),
		mutation: append([]domain.Mutation(nil), s.mutation...),
		seq:      s.seq,
	}
	for k, v := range s.keys {
		out.keys[k] = v
	}
	for k, v := range s.cards {
		out.cards[k] = v
	}
	return out
}

func (m *memStore) Read(_ context.Context, fn func(ports.Stores) error) error {
	m.mu.Lock()
	st := m.state.clone()
	m.mu.Unlock()
	return fn(m.stores(&st))
}

func (m *memStore) Write(_ context.Context, fn func(ports.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state.clone()
	if err := fn(m.stores(&st)); err != nil {
		return err
	}
	m.state = st
	return nil
}

func (m *memStore) stores(st *memState) ports.Stores {
	return ports.Stores{
		Keys:     memKeys{st},
		KeyCards: memCards{st},
		Custody:  memCustody{st},
		Events:   memEvents{st: st, fail: m.failRecord},
	}
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func ref(organization, code string) string { return organization + "/" + code }

type memKeys struct{ st *memState }

func (r memKeys) CreateKey(_ context.Context, key domain.Key) (domain.Key, error) {
	if _, ok := r.st.keys[ref(key.Organization, key.Code)]; ok {
		return domain.Key{}, domain.ErrDuplicateKeyCode
	}
	r.st.keys[ref(key.Organization, key.Code)] = key
	return key, nil
}

func (r memKeys) FindKey(_ context.Context, organization, code string) (domain.Key, error) {
	key, ok := r.st.keys[ref(organization, code)]
	if !ok {
		return domain.Key{}, domain.ErrKeyNotFound
	}
	return key, nil
}

func (r memKeys) ListKeys(_ context.Context, organization string, filter domain.ListFilter) ([]domain.Key, error) {
	out := []domain.Key{}
	for _, k := range r.st.keys {
		if k.Organization == organization && strings.HasPrefix(k.Code, filter.Prefix) && k.Code > filter.After {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r memKeys) UpdateKeyName(_ context.Context, organization, code, name string, at time.Time) (domain.Key, error) {
	key, ok := r.st.keys[ref(organization, code)]
	if !ok {
		return domain.Key{}, domain.ErrKeyNotFound
	}
	key.Name = name
	key.UpdatedAt = at
	r.st.keys[ref(organization, code)] = key
	return key, nil
}

func (r memKeys) DeleteKey(_ context.Context, organization, code string) error {
	if _, ok := r.st.keys[ref(organization, code)]; !ok {
		return domain.ErrKeyNotFound
	}
	delete(r.st.keys, ref(organization, code))
	return nil
}

type memCards struct{ st *memState }

func (r memCards) CreateKeyCard(_ context.Context, card domain.KeyCard) (domain.KeyCard, error) {
	if _, ok := r.st.cards[ref(card.Organization, card.Code)]; ok {
		return domain.KeyCard{}, domain.ErrDuplicateKeyCardCode
	}
	r.st.cards[ref(card.Organization, card.Code)] = card
	return card, nil
}

func (r memCards) FindKeyCard(_ context.Context, organization, code string) (domain.KeyCard, error) {
	card, ok := r.st.cards[ref(organization, code)]
	if !ok {
		return domain.KeyCard{}, domain.ErrKeyCardNotFound
	}
	return card, nil
}

func (r memCards) ListKeyCards(_ context.Context, organization string, filter domain.ListFilter) ([]domain.KeyCard, error) {
	out := []domain.KeyCard{}
	for _, c := range r.st.cards {
		if c.Organization == organization && strings.HasPrefix(c.Code, filter.Prefix) && c.Code > filter.After {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r memCards) UpdateKeyCardName(_ context.Context, organization, code, name string, at time.Time) (domain.KeyCard, error) {
	card, ok := r.st.cards[ref(organization, code)]
	if !ok {
		return domain.KeyCard{}, domain.ErrKeyCardNotFound
	}
	card.Name = name
	card.UpdatedAt = at
	r.st.cards[ref(organization, code)] = card
	return card, nil
}

type memCustody struct{ st *memState }

func (r memCustody) Append(_ context.Context, ev domain.CustodyEvent) (domain.CustodyEvent, error) {
	r.st.seq++
	ev.Sequence = r.st.seq
	r.st.custody = append(r.st.custody, ev)
	return ev, nil
}

func (r memCustody) ListByKey(_ context.Context, organization, keyID string) ([]domain.CustodyEvent, error) {
	out := []domain.CustodyEvent{}
	for _, ev := range r.st.custody {
		if ev.Organization == organization && ev.KeyID == keyID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type memEvents struct {
	st   *memState
	fail error
}

func (r memEvents) Record(_ context.Context, m domain.Mutation) (domain.EventEnvelope, error) {
	if r.fail != nil {
		return domain.EventEnvelope{}, r.fail
	}
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return domain.EventEnvelope{}, err
	}
	r.st.mutation = append(r.st.mutation, m)
	return domain.EventEnvelope{
		EventType:     m.EventType,
		Organization:  m.Organization,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		Payload:       payload,
	}, nil
}

type observerStub struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (o *observerStub) ObserveOperation(operation, outcome string, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string][]string{}
	}
	o.outcomes[operation] = append(o.outcomes[operation], outcome)
}
