package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

// eventLog writes the audit row and the outbox row of a mutation inside the
// caller's transaction, so both commit or roll back with the state change.
type eventLog struct {
	db *gorm.DB
}

func (l *eventLog) Record(ctx context.Context, m domain.Mutation) (domain.EventEnvelope, error) {
	meta := m.Meta.Normalize()
	tx := l.db.WithContext(ctx)

	version, err := nextAggregateVersion(tx, m.Organization, m.AggregateType, m.AggregateID)
	if err != nil {
		return domain.EventEnvelope{}, err
	}

	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("marshal event payload: %w", err)
	}

	envelope := domain.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        m.EventType,
		SchemaVersion:    domain.CurrentEventSchemaVersion,
		Organization:     m.Organization,
		AggregateType:    m.AggregateType,
		AggregateID:      m.AggregateID,
		AggregateVersion: version,
		OccurredAt:       meta.OccurredAt.UTC(),
		CorrelationID:    meta.CorrelationID,
		CausationID:      meta.CausationID,
		Actor:            meta.Actor,
		Source:           meta.Source,
		Payload:          payload,
	}

	if err := insertAuditAndOutbox(tx, m, meta, envelope); err != nil {
		return domain.EventEnvelope{}, err
	}
	return envelope, nil
}

func nextAggregateVersion(tx *gorm.DB, organization, aggregateType, id string) (int64, error) {
	var maxVersion int64
	err := tx.Model(&auditEventModel{}).
		Where("organization = ? AND aggregate_type = ? AND aggregate_id = ?", organization, aggregateType, id).
		Select("COALESCE(MAX(aggregate_version), 0)").
		Scan(&maxVersion).Error
	if err != nil {
		return 0, fmt.Errorf("query aggregate version: %w", err)
	}
	return maxVersion + 1, nil
}

func insertAuditAndOutbox(tx *gorm.DB, m domain.Mutation, meta domain.MutationMetadata, envelope domain.EventEnvelope) error {
	beforeJSON, err := snapshotJSON(m.Before)
	if err != nil {
		return err
	}
	afterJSON, err := snapshotJSON(m.After)
	if err != nil {
		return err
	}
	changed, err := json.Marshal(changedFields(beforeJSON, afterJSON))
	if err != nil {
		return fmt.Errorf("marshal changed fields: %w", err)
	}

	audit := auditEventModel{
		EventID:           envelope.EventID,
		SchemaVersion:     envelope.SchemaVersion,
		Organization:      m.Organization,
		AggregateType:     m.AggregateType,
		AggregateID:       m.AggregateID,
		AggregateVersion:  envelope.AggregateVersion,
		Action:            envelope.EventType,
		Actor:             meta.Actor,
		Source:            meta.Source,
		RequestID:         meta.RequestID,
		CorrelationID:     meta.CorrelationID,
		CausationID:       meta.CausationID,
		IdempotencyKey:    meta.IdempotencyKey,
		BeforeJSON:        beforeJSON,
		AfterJSON:         afterJSON,
		ChangedFieldsJSON: string(changed),
		OccurredAt:        envelope.OccurredAt,
	}
	if err := tx.Create(&audit).Error; err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	outbox := outboxEventModel{
		EventID:       envelope.EventID,
		Organization:  m.Organization,
		Topic:         Topic(m.Organization, envelope.EventType),
		PayloadJSON:   string(payload),
		Status:        outboxPending,
		NextAttemptAt: envelope.OccurredAt,
		CreatedAt:     envelope.OccurredAt,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// Topic is the outbox routing key of an event.
func Topic(organization, eventType string) string {
	return "events." + organization + "." + eventType
}

func snapshotJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(b), nil
}

// changedFields lists the top level fields whose values differ.
func changedFields(before, after string) []string {
	var b, a map[string]json.RawMessage
	if before != "" {
		_ = json.Unmarshal([]byte(before), &b)
	}
	if after != "" {
		_ = json.Unmarshal([]byte(after), &a)
	}

	seen := map[string]struct{}{}
	for k, v := range a {
		if string(b[k]) != string(v) {
			seen[k] = struct{}{}
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			seen[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
