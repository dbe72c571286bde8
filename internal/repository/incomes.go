package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

const incomeColumns = `id, to_member, from_member, purchase_id, level, amount, percentage::text, created_at`

func collectIncomes(rows pgx.Rows) ([]model.Income, error) {
	defer rows.Close()

	var res []model.Income
	for rows.Next() {
		var (
			inc        model.Income
			amount     int64
			percentage string
		)
		if err := rows.Scan(&inc.ID, &inc.ToMember, &inc.FromMember, &inc.PurchaseID, &inc.Level,
			&amount, &percentage, &inc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan income: %w", err)
		}
		p, err := parseDecimal(percentage)
		if err != nil {
			return nil, err
		}
		inc.Amount = fromCents(amount)
		inc.Percentage = p
		res = append(res, inc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListIncomesByMember возвращает начисления участнику, новые первыми.
func (r *PostgresRepository) ListIncomesByMember(ctx context.Context, memberID int64) ([]model.Income, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+incomeColumns+`
		 FROM incomes
		 WHERE to_member = $1
		 ORDER BY created_at DESC, id DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select incomes: %w", err)
	}
	return collectIncomes(rows)
}

// ListIncomesByPurchase возвращает все начисления по покупке по возрастанию уровня.
func (r *PostgresRepository) ListIncomesByPurchase(ctx context.Context, purchaseID int64) ([]model.Income, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+incomeColumns+`
		 FROM incomes
		 WHERE purchase_id = $1
		 ORDER BY level`,
		purchaseID,
	)
	if err != nil {
		return nil, fmt.Errorf("select incomes: %w", err)
	}
	return collectIncomes(rows)
}

// IncomeSummary возвращает сумму и количество начислений участника.
func (r *PostgresRepository) IncomeSummary(ctx context.Context, memberID int64) (model.IncomeSummary, error) {
	var total, count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::bigint, COUNT(*) FROM incomes WHERE to_member = $1`,
		memberID,
	).Scan(&total, &count)
	if err != nil {
		return model.IncomeSummary{}, fmt.Errorf("sum incomes: %w", err)
	}
	return model.IncomeSummary{Total: fromCents(total), Credits: count}, nil
}

// LoggedTotalByPurchase суммирует журнал начислений по покупке.
func (r *PostgresRepository) LoggedTotalByPurchase(ctx context.Context, purchaseID int64) (decimal.Decimal, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(income_amount), 0)::bigint FROM income_logs WHERE purchase_id = $1`,
		purchaseID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum income logs: %w", err)
	}
	return fromCents(total), nil
}

// TotalDistributed возвращает сумму всех начислений по журналу, не сканируя incomes.
func (r *PostgresRepository) TotalDistributed(ctx context.Context) (decimal.Decimal, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(income_amount), 0)::bigint FROM income_logs`,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum income logs: %w", err)
	}
	return fromCents(total), nil
}
