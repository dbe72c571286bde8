package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-bv-system/internal/distribution"
	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/repository"
)

// PurchaseResult описывает итог обработки покупки.
type PurchaseResult struct {
	Purchase *model.Purchase
	// Replayed выставляется, если покупка с тем же ключом уже была проведена.
	Replayed bool
	Total    decimal.Decimal
}

// CreatePurchase проводит покупку услуги и распределяет её BV по предкам покупателя.
// Покупка, начисления и журнал записываются в одной транзакции. Повтор с тем же
// requestID возвращает уже проведённую покупку без новых начислений.
func (s *Service) CreatePurchase(ctx context.Context, memberID, serviceID int64, requestID uuid.UUID) (*PurchaseResult, error) {
	var out PurchaseResult

	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		out = PurchaseResult{}

		existing, err := tx.FindPurchaseByRequest(ctx, memberID, requestID)
		if err == nil {
			out.Purchase = existing
			out.Replayed = true
			return nil
		}
		if !errors.Is(err, repository.ErrPurchaseNotFound) {
			return err
		}

		svc, err := tx.GetService(ctx, serviceID)
		if err != nil {
			return err
		}
		if !svc.Active {
			return fmt.Errorf("%w: %d", ErrServiceInactive, svc.ID)
		}

		p := &model.Purchase{
			RequestID:   requestID,
			MemberID:    memberID,
			ServiceID:   svc.ID,
			ServiceName: svc.Name,
			Price:       svc.Price,
		}
		if err := tx.InsertPendingPurchase(ctx, p); err != nil {
			return err
		}

		res, err := s.distribution.Distribute(ctx, tx, memberID, svc.BV, p.ID)
		if err != nil {
			return err
		}

		bv, ruleID := res.BV, res.RuleID
		p.BV = &bv
		p.RuleID = &ruleID
		p.CreditsWritten = res.CreditsWritten
		p.LevelsPaid = res.LevelsPaid
		if err := tx.FinalizePurchase(ctx, p); err != nil {
			return err
		}

		out.Purchase = p
		out.Total = res.Total
		return nil
	})

	// Параллельный запрос с тем же ключом успел зафиксировать покупку первым.
	if errors.Is(err, repository.ErrPurchaseExists) {
		return s.replayPurchase(ctx, memberID, requestID)
	}

	if err != nil {
		result := "aborted"
		if errors.Is(err, distribution.ErrNoActiveRule) {
			result = "no_active_rule"
		}
		s.metrics.ObserveDistribution(result, 0, decimal.Zero)

		if isPurchaseRejection(err) {
			return nil, err
		}
		s.logger.Error("purchase rolled back",
			zap.Int64("memberID", memberID),
			zap.Int64("serviceID", serviceID),
			zap.String("requestID", requestID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrTransactionAborted, err)
	}

	if out.Replayed {
		return &out, nil
	}

	s.metrics.ObserveDistribution("ok", out.Purchase.LevelsPaid, out.Total)
	s.logger.Info("purchase completed",
		zap.Int64("purchaseID", out.Purchase.ID),
		zap.Int64("memberID", memberID),
		zap.Int("credits", out.Purchase.CreditsWritten),
		zap.String("total", out.Total.StringFixed(2)),
	)
	return &out, nil
}

// isPurchaseRejection отделяет отказы по входным данным от сбоев записи.
func isPurchaseRejection(err error) bool {
	return errors.Is(err, distribution.ErrNoActiveRule) ||
		errors.Is(err, distribution.ErrInvalidBV) ||
		errors.Is(err, repository.ErrServiceNotFound) ||
		errors.Is(err, repository.ErrMemberNotFound) ||
		errors.Is(err, ErrServiceInactive)
}

func (s *Service) replayPurchase(ctx context.Context, memberID int64, requestID uuid.UUID) (*PurchaseResult, error) {
	var p *model.Purchase
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		p, err = tx.FindPurchaseByRequest(ctx, memberID, requestID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replay purchase %s: %w", requestID, err)
	}
	return &PurchaseResult{Purchase: p, Replayed: true}, nil
}

// PurchaseIncomes содержит начисления по одной покупке со сверкой журнала.
type PurchaseIncomes struct {
	Incomes     []model.Income
	Total       decimal.Decimal
	LoggedTotal decimal.Decimal
}

// Reconciled сообщает, совпадает ли сумма журнала с суммой начислений.
func (p PurchaseIncomes) Reconciled() bool {
	return p.Total.Equal(p.LoggedTotal)
}

// GetPurchaseIncomes возвращает начисления по покупке и сумму по журналу.
func (s *Service) GetPurchaseIncomes(ctx context.Context, purchaseID int64) (*PurchaseIncomes, error) {
	incomes, err := s.repo.ListIncomesByPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	logged, err := s.repo.LoggedTotalByPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, inc := range incomes {
		total = total.Add(inc.Amount)
	}

	if !total.Equal(logged) {
		s.logger.Warn("income log diverges from incomes",
			zap.Int64("purchaseID", purchaseID),
			zap.String("incomes", total.StringFixed(2)),
			zap.String("logged", logged.StringFixed(2)),
		)
	}

	return &PurchaseIncomes{Incomes: incomes, Total: total, LoggedTotal: logged}, nil
}
