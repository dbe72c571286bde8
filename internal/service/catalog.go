package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

// CreateService добавляет услугу в каталог. Цена и BV округляются до копеек.
func (s *Service) CreateService(ctx context.Context, name string, price, bv decimal.Decimal, active bool) (*model.Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidService)
	}
	if price.IsNegative() || bv.IsNegative() {
		return nil, fmt.Errorf("%w: price and bv must not be negative", ErrInvalidService)
	}

	svc := &model.Service{
		Name:   name,
		Price:  price.Round(2),
		BV:     bv.Round(2),
		Active: active,
	}
	if err := s.repo.CreateService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// ListServices возвращает каталог услуг.
func (s *Service) ListServices(ctx context.Context) ([]model.Service, error) {
	return s.repo.ListServices(ctx)
}
