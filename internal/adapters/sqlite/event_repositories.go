package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/keyledger/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

const (
	outboxPending    = "pending"
	outboxDispatched = "dispatched"
	outboxDead       = "dead"
)

type auditEventModel struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement"`
	EventID           string    `gorm:"column:event_id;not null"`
	SchemaVersion     int       `gorm:"column:schema_version;not null"`
	Organization      string    `gorm:"column:organization;not null"`
	AggregateType     string    `gorm:"column:aggregate_type;not null"`
	AggregateID       string    `gorm:"column:aggregate_id;not null"`
	AggregateVersion  int64     `gorm:"column:aggregate_version;not null"`
	Action            string    `gorm:"column:action;not null"`
	Actor             string    `gorm:"column:actor;not null"`
	Source            string    `gorm:"column:source;not null"`
	RequestID         string    `gorm:"column:request_id;not null"`
	CorrelationID     string    `gorm:"column:correlation_id;not null"`
	CausationID       string    `gorm:"column:causation_id;not null"`
	IdempotencyKey    string    `gorm:"column:idempotency_key;not null"`
	BeforeJSON        string    `gorm:"column:before_json"`
	AfterJSON         string    `gorm:"column:after_json"`
	ChangedFieldsJSON string    `gorm:"column:changed_fields_json"`
	OccurredAt        time.Time `gorm:"column:occurred_at;not null"`
}

func (auditEventModel) TableName() string {
	return "audit_events"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	Organization  string     `gorm:"column:organization;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

type AuditTrailRepository struct {
	db *gormsqlite.DB
}

func NewAuditTrailRepository(db *gormsqlite.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

func (r *AuditTrailRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	var rows []auditEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&auditEventModel{}).Where("organization = ?", filter.Organization)
		if filter.AggregateType != "" {
			query = query.Where("aggregate_type = ?", filter.AggregateType)
		}
		if filter.AggregateID != "" {
			query = query.Where("aggregate_id = ?", filter.AggregateID)
		}
		if filter.Action != "" {
			query = query.Where("action = ?", filter.Action)
		}
		order := "id DESC"
		if filter.Ascending {
			order = "id ASC"
			if filter.Cursor > 0 {
				query = query.Where("id > ?", filter.Cursor)
			}
		} else if filter.Cursor > 0 {
			query = query.Where("id < ?", filter.Cursor)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query.Order(order).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	result := make([]domain.AuditTrailEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.AuditTrailEvent{
			ID:               row.ID,
			EventID:          row.EventID,
			SchemaVersion:    row.SchemaVersion,
			Organization:     row.Organization,
			AggregateType:    row.AggregateType,
			AggregateID:      row.AggregateID,
			AggregateVersion: row.AggregateVersion,
			Action:           row.Action,
			Actor:            row.Actor,
			Source:           row.Source,
			RequestID:        row.RequestID,
			CorrelationID:    row.CorrelationID,
			CausationID:      row.CausationID,
			IdempotencyKey:   row.IdempotencyKey,
			BeforeJSON:       rawOrNil(row.BeforeJSON),
			AfterJSON:        rawOrNil(row.AfterJSON),
			ChangedJSON:      rawOrNil(row.ChangedFieldsJSON),
			OccurredAt:       row.OccurredAt.UTC(),
		})
	}

	return result, nil
}

type OutboxRepository struct {
	db *gormsqlite.DB
}

func NewOutboxRepository(db *gormsqlite.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []outboxEventModel
	now := time.Now().UTC()
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("status = ? AND next_attempt_at <= ?", outboxPending, now).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}

	result := make([]domain.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.OutboxEvent{
			ID:            row.ID,
			EventID:       row.EventID,
			Organization:  row.Organization,
			Topic:         row.Topic,
			PayloadJSON:   json.RawMessage(row.PayloadJSON),
			Status:        row.Status,
			Attempts:      row.Attempts,
			NextAttemptAt: row.NextAttemptAt,
			LastError:     row.LastError,
			CreatedAt:     row.CreatedAt,
			DispatchedAt:  row.DispatchedAt,
		})
	}
	return result, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": outboxDispatched, "dispatched_at": &now, "last_error": ""}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	parsed, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("parse next attempt: %w", err)
	}
	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"attempts": attempts, "next_attempt_at": parsed.UTC(), "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": outboxDead, "attempts": attempts, "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	return nil
}

// Backlog counts outbox rows per status.
func (r *OutboxRepository) Backlog(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Select("status, COUNT(*) AS n").
			Group("status").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("count outbox backlog: %w", err)
	}
	out := map[string]int64{outboxPending: 0, outboxDispatched: 0, outboxDead: 0}
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
