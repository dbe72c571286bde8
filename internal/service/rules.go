package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-bv-system/internal/distribution"
	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/repository"
)

func validateBase(base decimal.Decimal) error {
	if base.IsNegative() || base.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: got %s", ErrInvalidRule, base)
	}
	return nil
}

// ListRules возвращает все правила распределения.
func (s *Service) ListRules(ctx context.Context) ([]model.DistributionRule, error) {
	return s.repo.ListRules(ctx)
}

// GetRule возвращает правило по идентификатору.
func (s *Service) GetRule(ctx context.Context, id int64) (*model.DistributionRule, error) {
	return s.repo.GetRule(ctx, id)
}

// ActiveRule возвращает правило, по которому распределяются новые покупки.
func (s *Service) ActiveRule(ctx context.Context) (*model.DistributionRule, error) {
	rule, found, err := s.repo.ActiveRule(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, distribution.ErrNoActiveRule
	}
	return rule, nil
}

// CreateRule создаёт правило. С activate правило сразу становится активным,
// а прежнее активное правило замещается в той же транзакции.
func (s *Service) CreateRule(ctx context.Context, base decimal.Decimal, decay, activate bool) (*model.DistributionRule, error) {
	if err := validateBase(base); err != nil {
		return nil, err
	}

	var out *model.DistributionRule
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		rule := &model.DistributionRule{BasePercentage: base, DecayEnabled: decay}
		if err := tx.InsertRule(ctx, rule); err != nil {
			return err
		}
		if activate {
			activated, err := activateRule(ctx, tx, rule.ID)
			if err != nil {
				return err
			}
			rule = activated
		}
		out = rule
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("rule created",
		zap.Int64("ruleID", out.ID),
		zap.String("base", out.BasePercentage.String()),
		zap.Bool("decay", out.DecayEnabled),
		zap.Bool("active", out.IsActive),
	)
	return out, nil
}

// ActivateRule делает правило активным и замещает текущее. Повторная активация
// активного правила ничего не меняет.
func (s *Service) ActivateRule(ctx context.Context, id int64) (*model.DistributionRule, error) {
	var out *model.DistributionRule
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		rule, err := activateRule(ctx, tx, id)
		out = rule
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("rule activated", zap.Int64("ruleID", id))
	return out, nil
}

func activateRule(ctx context.Context, tx repository.Tx, id int64) (*model.DistributionRule, error) {
	rule, err := tx.LockRule(ctx, id)
	if err != nil {
		return nil, err
	}

	switch rule.Status() {
	case model.RuleStatusActive:
		return rule, nil
	case model.RuleStatusSuperseded:
		return nil, fmt.Errorf("%w: rule %d is superseded", ErrRuleTransition, id)
	}

	if err := tx.DeactivateRules(ctx); err != nil {
		return nil, err
	}
	return tx.MarkRuleActive(ctx, id)
}

// UpdateRule меняет параметры правила, пока по нему не проведено ни одной покупки.
func (s *Service) UpdateRule(ctx context.Context, id int64, base decimal.Decimal, decay bool) (*model.DistributionRule, error) {
	if err := validateBase(base); err != nil {
		return nil, err
	}

	var out *model.DistributionRule
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		rule, err := tx.LockRule(ctx, id)
		if err != nil {
			return err
		}
		if rule.Status() == model.RuleStatusSuperseded {
			return fmt.Errorf("%w: rule %d is superseded", ErrRuleImmutable, id)
		}

		referenced, err := tx.RuleReferenced(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: rule %d", ErrRuleImmutable, id)
		}

		rule.BasePercentage = base
		rule.DecayEnabled = decay
		if err := tx.UpdateRule(ctx, rule); err != nil {
			return err
		}
		out = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
