package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

type keyModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Organization string    `gorm:"column:organization;not null"`
	Code         string    `gorm:"column:code;not null"`
	Name         string    `gorm:"column:name;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (keyModel) TableName() string {
	return "keys"
}

type keyRepository struct {
	db *gorm.DB
}

func (r *keyRepository) CreateKey(ctx context.Context, key domain.Key) (domain.Key, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&keyModel{}).
		Where("organization = ? AND code = ?", key.Organization, key.Code).
		Count(&n).Error; err != nil {
		return domain.Key{}, fmt.Errorf("check key code: %w", err)
	}
	if n > 0 {
		return domain.Key{}, domain.ErrDuplicateKeyCode
	}

	model := keyModel{
		ID:           key.ID,
		Organization: key.Organization,
		Code:         key.Code,
		Name:         key.Name,
		CreatedAt:    key.CreatedAt.UTC(),
		UpdatedAt:    key.UpdatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.Key{}, domain.ErrDuplicateKeyCode
		}
		return domain.Key{}, fmt.Errorf("insert key: %w", err)
	}
	return keyToDomain(model), nil
}

func (r *keyRepository) FindKey(ctx context.Context, organization, code string) (domain.Key, error) {
	var model keyModel
	err := r.db.WithContext(ctx).
		Where("organization = ? AND code = ?", organization, code).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Key{}, domain.ErrKeyNotFound
		}
		return domain.Key{}, fmt.Errorf("find key: %w", err)
	}
	return keyToDomain(model), nil
}

func (r *keyRepository) ListKeys(ctx context.Context, organization string, filter domain.ListFilter) ([]domain.Key, error) {
	query := r.db.WithContext(ctx).Model(&keyModel{}).Where("organization = ?", organization)
	if filter.Prefix != "" {
		query = query.Where("code >= ? AND code < ?", filter.Prefix, filter.Prefix+"\uffff")
	}
	if filter.After != "" {
		query = query.Where("code > ?", filter.After)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []keyModel
	if err := query.Order("code ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys := make([]domain.Key, 0, len(models))
	for _, m := range models {
		keys = append(keys, keyToDomain(m))
	}
	return keys, nil
}

func (r *keyRepository) UpdateKeyName(ctx context.Context, organization, code, name string, at time.Time) (domain.Key, error) {
	res := r.db.WithContext(ctx).Model(&keyModel{}).
		Where("organization = ? AND code = ?", organization, code).
		Updates(map[string]any{"name": name, "updated_at": at.UTC()})
	if res.Error != nil {
		return domain.Key{}, fmt.Errorf("update key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Key{}, domain.ErrKeyNotFound
	}
	return r.FindKey(ctx, organization, code)
}

func (r *keyRepository) DeleteKey(ctx context.Context, organization, code string) error {
	res := r.db.WithContext(ctx).
		Where("organization = ? AND code = ?", organization, code).
		Delete(&keyModel{})
	if res.Error != nil {
		return fmt.Errorf("delete key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}

func keyToDomain(m keyModel) domain.Key {
	return domain.Key{
		ID:           m.ID,
		Organization: m.Organization,
		Code:         m.Code,
		Name:         m.Name,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}
