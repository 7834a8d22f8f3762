package domain

import (
	"fmt"
	"sort"
	"time"
)

type CustodyKind string

const (
	CustodyGive    CustodyKind = "give"
	CustodyReceive CustodyKind = "receive"
	CustodyReturn  CustodyKind = "return"
)

func (k CustodyKind) Valid() bool {
	switch k {
	case CustodyGive, CustodyReceive, CustodyReturn:
		return true
	}
	return false
}

// CustodyEvent is one immutable ledger entry. An empty holder means the key
// is with the organization (unassigned).
type CustodyEvent struct {
	ID           string
	Sequence     int64
	KeyID        string
	KeyCode      string
	Organization string
	Kind         CustodyKind
	FromHolder   string
	ToHolder     string
	EvidenceRef  string
	Comment      string
	Actor        string
	OccurredAt   time.Time
}

// CustodyState is the fold of a key's custody events.
//
// A give moves the key to its target immediately and leaves it Pending until
// the target confirms with a receive. A later give supersedes a pending one.
type CustodyState struct {
	KeyID        string
	Organization string
	Holder       string
	Pending      bool
	PendingFrom  string
	Version      int64
	LastEventAt  time.Time
}

func NewCustodyState(key Key) CustodyState {
	return CustodyState{KeyID: key.ID, Organization: key.Organization}
}

func (s CustodyState) Unassigned() bool {
	return s.Holder == ""
}

func (s CustodyState) Settled() bool {
	return s.Holder != "" && !s.Pending
}

// Apply folds a single accepted event into the state.
func (s CustodyState) Apply(ev CustodyEvent) (CustodyState, error) {
	if ev.Organization != s.Organization {
		return s, ErrCrossTenant
	}
	if ev.KeyID != s.KeyID {
		return s, fmt.Errorf("custody event %s belongs to key %s, not %s", ev.ID, ev.KeyID, s.KeyID)
	}

	switch ev.Kind {
	case CustodyGive:
		s.PendingFrom = ev.FromHolder
		s.Holder = ev.ToHolder
		s.Pending = true
	case CustodyReceive:
		s.Pending = false
		s.PendingFrom = ""
	case CustodyReturn:
		s.Holder = ""
		s.Pending = false
		s.PendingFrom = ""
	default:
		return s, fmt.Errorf("custody event %s: unknown kind %q", ev.ID, ev.Kind)
	}
	s.Version++
	s.LastEventAt = ev.OccurredAt
	return s, nil
}

// FoldCustody replays events in timestamp order, falling back to append
// order for equal timestamps.
func FoldCustody(key Key, events []CustodyEvent) (CustodyState, error) {
	ordered := make([]CustodyEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].OccurredAt.Equal(ordered[j].OccurredAt) {
			return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
		}
		return ordered[i].Sequence < ordered[j].Sequence
	})

	state := NewCustodyState(key)
	for _, ev := range ordered {
		next, err := state.Apply(ev)
		if err != nil {
			return CustodyState{}, err
		}
		state = next
	}
	return state, nil
}

// Give decides a handoff to holder. The returned event still lacks its id,
// actor and timestamp.
func (s CustodyState) Give(holder, evidenceRef, comment string) (CustodyEvent, error) {
	if err := ValidateHolder(holder); err != nil {
		return CustodyEvent{}, err
	}
	if err := ValidateEvidenceRef(evidenceRef); err != nil {
		return CustodyEvent{}, err
	}
	if err := ValidateComment(comment); err != nil {
		return CustodyEvent{}, err
	}
	if holder == s.Holder {
		return CustodyEvent{}, ErrSameHolder
	}
	return CustodyEvent{
		KeyID:        s.KeyID,
		Organization: s.Organization,
		Kind:         CustodyGive,
		FromHolder:   s.Holder,
		ToHolder:     holder,
		EvidenceRef:  evidenceRef,
		Comment:      comment,
	}, nil
}

// Receive decides the confirmation of the pending give by holder.
func (s CustodyState) Receive(holder, comment string) (CustodyEvent, error) {
	if err := ValidateHolder(holder); err != nil {
		return CustodyEvent{}, err
	}
	if err := ValidateComment(comment); err != nil {
		return CustodyEvent{}, err
	}
	if !s.Pending {
		return CustodyEvent{}, ErrNoPendingGive
	}
	if holder != s.Holder {
		return CustodyEvent{}, ErrWrongRecipient
	}
	return CustodyEvent{
		KeyID:        s.KeyID,
		Organization: s.Organization,
		Kind:         CustodyReceive,
		FromHolder:   s.PendingFrom,
		ToHolder:     holder,
		Comment:      comment,
	}, nil
}

// Return decides handing the key back to the organization.
func (s CustodyState) Return(comment string) (CustodyEvent, error) {
	if err := ValidateComment(comment); err != nil {
		return CustodyEvent{}, err
	}
	if s.Holder == "" {
		return CustodyEvent{}, ErrNotHeld
	}
	return CustodyEvent{
		KeyID:        s.KeyID,
		Organization: s.Organization,
		Kind:         CustodyReturn,
		FromHolder:   s.Holder,
		Comment:      comment,
	}, nil
}

// CheckRemovable refuses removal while anyone holds the key, pending or not.
func (s CustodyState) CheckRemovable() error {
	if s.Holder != "" {
		return ErrHasOpenCustody
	}
	return nil
}

// NextTimestamp never goes back behind the last event, which keeps
// timestamp order equal to append order.
func (s CustodyState) NextTimestamp(now time.Time) time.Time {
	now = now.UTC()
	if now.Before(s.LastEventAt) {
		return s.LastEventAt
	}
	return now
}
