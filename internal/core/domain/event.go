package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

const (
	AggregateKey     = "key"
	AggregateKeyCard = "keycard"
)

const (
	EventKeyCreated     = "key.created"
	EventKeyRenamed     = "key.renamed"
	EventKeyRemoved     = "key.removed"
	EventKeyGiven       = "key.given"
	EventKeyReceived    = "key.received"
	EventKeyReturned    = "key.returned"
	EventKeyCardCreated = "keycard.created"
	EventKeyCardRenamed = "keycard.renamed"
)

type MutationMetadata struct {
	Actor          string
	Source         string
	RequestID      string
	CorrelationID  string
	CausationID    string
	IdempotencyKey string
	OccurredAt     time.Time
}

func (m MutationMetadata) Normalize() MutationMetadata {
	if m.Actor == "" {
		m.Actor = "api"
	}
	if m.Source == "" {
		m.Source = "api"
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}
	return m
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	SchemaVersion    int             `json:"schema_version"`
	Organization     string          `json:"organization"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	OccurredAt       time.Time       `json:"occurred_at"`
	CorrelationID    string          `json:"correlation_id"`
	CausationID      string          `json:"causation_id"`
	Actor            string          `json:"actor"`
	Source           string          `json:"source"`
	Payload          json.RawMessage `json:"payload"`
}

// Mutation is what a use case hands to the event log: the envelope facts
// plus before/after snapshots for the audit trail.
type Mutation struct {
	EventType     string
	Organization  string
	AggregateType string
	AggregateID   string
	Before        any
	After         any
	Payload       any
	Meta          MutationMetadata
}

type AuditTrailEvent struct {
	ID               int64           `json:"id"`
	EventID          string          `json:"event_id"`
	SchemaVersion    int             `json:"schema_version"`
	Organization     string          `json:"organization"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	Action           string          `json:"action"`
	Actor            string          `json:"actor"`
	Source           string          `json:"source"`
	RequestID        string          `json:"request_id"`
	CorrelationID    string          `json:"correlation_id"`
	CausationID      string          `json:"causation_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	BeforeJSON       json.RawMessage `json:"before_json,omitempty"`
	AfterJSON        json.RawMessage `json:"after_json,omitempty"`
	ChangedJSON      json.RawMessage `json:"changed_fields_json,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Organization  string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

// AuditFilter pages through an organization's audit trail. With Ascending
// the cursor is exclusive lower bound, otherwise exclusive upper bound.
type AuditFilter struct {
	Organization  string
	AggregateType string
	AggregateID   string
	Action        string
	Cursor        int64
	Ascending     bool
	Limit         int
}

func (f AuditFilter) Validate() error {
	if err := ValidateOrganization(f.Organization); err != nil {
		return err
	}
	switch f.AggregateType {
	case "", AggregateKey, AggregateKeyCard:
	default:
		return ErrInvalidFilter
	}
	if f.Cursor < 0 || len(f.AggregateID) > 64 || len(f.Action) > 64 {
		return ErrInvalidFilter
	}
	return nil
}
