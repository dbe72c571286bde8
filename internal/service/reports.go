package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

// GetMember возвращает участника по идентификатору.
func (s *Service) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	return s.repo.GetMember(ctx, id)
}

// ListIncomes возвращает начисления участнику, новые первыми.
func (s *Service) ListIncomes(ctx context.Context, memberID int64) ([]model.Income, error) {
	return s.repo.ListIncomesByMember(ctx, memberID)
}

// IncomeSummary возвращает сумму начислений участника.
func (s *Service) IncomeSummary(ctx context.Context, memberID int64) (model.IncomeSummary, error) {
	return s.repo.IncomeSummary(ctx, memberID)
}

// TotalDistributed возвращает сумму всех начислений по журналу.
func (s *Service) TotalDistributed(ctx context.Context) (decimal.Decimal, error) {
	return s.repo.TotalDistributed(ctx)
}
