package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

type keyCardModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Organization string    `gorm:"column:organization;not null"`
	Code         string    `gorm:"column:code;not null"`
	Name         string    `gorm:"column:name;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (keyCardModel) TableName() string {
	return "key_cards"
}

type keyCardRepository struct {
	db *gorm.DB
}

func (r *keyCardRepository) CreateKeyCard(ctx context.Context, card domain.KeyCard) (domain.KeyCard, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&keyCardModel{}).
		Where("organization = ? AND code = ?", card.Organization, card.Code).
		Count(&n).Error; err != nil {
		return domain.KeyCard{}, fmt.Errorf("check key card code: %w", err)
	}
	if n > 0 {
		return domain.KeyCard{}, domain.ErrDuplicateKeyCardCode
	}

	model := keyCardModel{
		ID:           card.ID,
		Organization: card.Organization,
		Code:         card.Code,
		Name:         card.Name,
		CreatedAt:    card.CreatedAt.UTC(),
		UpdatedAt:    card.UpdatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.KeyCard{}, domain.ErrDuplicateKeyCardCode
		}
		return domain.KeyCard{}, fmt.Errorf("insert key card: %w", err)
	}
	return keyCardToDomain(model), nil
}

func (r *keyCardRepository) FindKeyCard(ctx context.Context, organization, code string) (domain.KeyCard, error) {
	var model keyCardModel
	err := r.db.WithContext(ctx).
		Where("organization = ? AND code = ?", organization, code).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.KeyCard{}, domain.ErrKeyCardNotFound
		}
		return domain.KeyCard{}, fmt.Errorf("find key card: %w", err)
	}
	return keyCardToDomain(model), nil
}

func (r *keyCardRepository) ListKeyCards(ctx context.Context, organization string, filter domain.ListFilter) ([]domain.KeyCard, error) {
	query := r.db.WithContext(ctx).Model(&keyCardModel{}).Where("organization = ?", organization)
	if filter.Prefix != "" {
		query = query.Where("code >= ? AND code < ?", filter.Prefix, filter.Prefix+"\uffff")
	}
	if filter.After != "" {
		query = query.Where("code > ?", filter.After)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []keyCardModel
	if err := query.Order("code ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list key cards: %w", err)
	}
	cards := make([]domain.KeyCard, 0, len(models))
	for _, m := range models {
		cards = append(cards, keyCardToDomain(m))
	}
	return cards, nil
}

func (r *keyCardRepository) UpdateKeyCardName(ctx context.Context, organization, code, name string, at time.Time) (domain.KeyCard, error) {
	res := r.db.WithContext(ctx).Model(&keyCardModel{}).
		Where("organization = ? AND code = ?", organization, code).
		Updates(map[string]any{"name": name, "updated_at": at.UTC()})
	if res.Error != nil {
		return domain.KeyCard{}, fmt.Errorf("update key card: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.KeyCard{}, domain.ErrKeyCardNotFound
	}
	return r.FindKeyCard(ctx, organization, code)
}

func keyCardToDomain(m keyCardModel) domain.KeyCard {
	return domain.KeyCard{
		ID:           m.ID,
		Organization: m.Organization,
		Code:         m.Code,
		Name:         m.Name,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}
