package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

// ListRules возвращает историю правил распределения, новые первыми.
func (r *PostgresRepository) ListRules(ctx context.Context) ([]model.DistributionRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM distribution_rules ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select rules: %w", err)
	}
	defer rows.Close()

	var res []model.DistributionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		res = append(res, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ActiveRule возвращает текущее активное правило без блокировки; found=false, если его нет.
func (r *PostgresRepository) ActiveRule(ctx context.Context) (*model.DistributionRule, bool, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM distribution_rules WHERE is_active`,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select active rule: %w", err)
	}
	return rule, true, nil
}

// GetRule возвращает правило по идентификатору.
func (r *PostgresRepository) GetRule(ctx context.Context, id int64) (*model.DistributionRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM distribution_rules WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}
