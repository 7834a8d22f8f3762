package usecase

import (
	"context"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
)

type AuditService struct {
	repo ports.AuditTrailRepository
}

func NewAuditService(repo ports.AuditTrailRepository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.List(ctx, filter)
}
