package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

type custodyEventModel struct {
	Seq          int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	EventID      string    `gorm:"column:event_id;not null"`
	KeyID        string    `gorm:"column:key_id;not null"`
	KeyCode      string    `gorm:"column:key_code;not null"`
	Organization string    `gorm:"column:organization;not null"`
	Kind         string    `gorm:"column:kind;not null"`
	FromHolder   string    `gorm:"column:from_holder;not null"`
	ToHolder     string    `gorm:"column:to_holder;not null"`
	EvidenceRef  string    `gorm:"column:evidence_ref;not null"`
	Comment      string    `gorm:"column:comment;not null"`
	Actor        string    `gorm:"column:actor;not null"`
	OccurredAt   time.Time `gorm:"column:occurred_at;not null"`
}

func (custodyEventModel) TableName() string {
	return "custody_events"
}

// custodyRepository only ever inserts; the table rejects updates and deletes
// through triggers.
type custodyRepository struct {
	db *gorm.DB
}

func (r *custodyRepository) Append(ctx context.Context, ev domain.CustodyEvent) (domain.CustodyEvent, error) {
	if !ev.Kind.Valid() {
		return domain.CustodyEvent{}, fmt.Errorf("custody event %s: unknown kind %q", ev.ID, ev.Kind)
	}
	model := custodyEventModel{
		EventID:      ev.ID,
		KeyID:        ev.KeyID,
		KeyCode:      ev.KeyCode,
		Organization: ev.Organization,
		Kind:         string(ev.Kind),
		FromHolder:   ev.FromHolder,
		ToHolder:     ev.ToHolder,
		EvidenceRef:  ev.EvidenceRef,
		Comment:      ev.Comment,
		Actor:        ev.Actor,
		OccurredAt:   ev.OccurredAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.CustodyEvent{}, fmt.Errorf("insert custody event: %w", err)
	}
	return custodyToDomain(model), nil
}

func (r *custodyRepository) ListByKey(ctx context.Context, organization, keyID string) ([]domain.CustodyEvent, error) {
	var models []custodyEventModel
	err := r.db.WithContext(ctx).
		Where("organization = ? AND key_id = ?", organization, keyID).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list custody events: %w", err)
	}
	events := make([]domain.CustodyEvent, 0, len(models))
	for _, m := range models {
		ev := custodyToDomain(m)
		if !ev.Kind.Valid() {
			return nil, fmt.Errorf("custody event %s: unknown kind %q", ev.ID, ev.Kind)
		}
		events = append(events, ev)
	}
	return events, nil
}

func custodyToDomain(m custodyEventModel) domain.CustodyEvent {
	return domain.CustodyEvent{
		ID:           m.EventID,
		Sequence:     m.Seq,
		KeyID:        m.KeyID,
		KeyCode:      m.KeyCode,
		Organization: m.Organization,
		Kind:         domain.CustodyKind(m.Kind),
		FromHolder:   m.FromHolder,
		ToHolder:     m.ToHolder,
		EvidenceRef:  m.EvidenceRef,
		Comment:      m.Comment,
		Actor:        m.Actor,
		OccurredAt:   m.OccurredAt.UTC(),
	}
}
