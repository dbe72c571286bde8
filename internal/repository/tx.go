package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

// Tx содержит операции, выполняемые внутри одной транзакции WithinTx.
type Tx interface {
	// ActiveRule читает активное правило с блокировкой FOR SHARE,
	// чтобы активация другого правила дождалась завершения покупки.
	ActiveRule(ctx context.Context) (model.DistributionRule, bool, error)
	ParentOf(ctx context.Context, memberID int64) (*int64, error)
	InsertIncome(ctx context.Context, income *model.Income) error
	InsertIncomeLog(ctx context.Context, entry *model.IncomeLog) error

	GetService(ctx context.Context, id int64) (*model.Service, error)
	FindPurchaseByRequest(ctx context.Context, memberID int64, requestID uuid.UUID) (*model.Purchase, error)
	InsertPendingPurchase(ctx context.Context, p *model.Purchase) error
	FinalizePurchase(ctx context.Context, p *model.Purchase) error

	InsertRule(ctx context.Context, rule *model.DistributionRule) error
	LockRule(ctx context.Context, id int64) (*model.DistributionRule, error)
	DeactivateRules(ctx context.Context) error
	MarkRuleActive(ctx context.Context, id int64) (*model.DistributionRule, error)
	RuleReferenced(ctx context.Context, id int64) (bool, error)
	UpdateRule(ctx context.Context, rule *model.DistributionRule) error
}

type pgTx struct {
	q querier
}

const ruleColumns = `id, base_percentage::text, decay_enabled, is_active, created_at, activated_at, superseded_at`

func scanRule(row pgx.Row) (*model.DistributionRule, error) {
	var (
		rule model.DistributionRule
		base string
	)
	if err := row.Scan(&rule.ID, &base, &rule.DecayEnabled, &rule.IsActive, &rule.CreatedAt, &rule.ActivatedAt, &rule.SupersededAt); err != nil {
		return nil, err
	}
	d, err := parseDecimal(base)
	if err != nil {
		return nil, err
	}
	rule.BasePercentage = d
	return &rule, nil
}

// activeRuleReads ограничивает число повторных чтений активного правила.
const activeRuleReads = 3

// ActiveRule читает активное правило с блокировкой FOR SHARE. Если чтение дождалось
// фиксации параллельной активации, строка прежнего правила отбрасывается перепроверкой,
// а новое правило не видно в снимке этого запроса. Поэтому пустой результат
// перечитывается отдельным запросом с новым снимком.
func (t *pgTx) ActiveRule(ctx context.Context) (model.DistributionRule, bool, error) {
	for read := 1; read <= activeRuleReads; read++ {
		rule, err := scanRule(t.q.QueryRow(ctx,
			`SELECT `+ruleColumns+` FROM distribution_rules WHERE is_active FOR SHARE`,
		))
		if err == nil {
			return *rule, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return model.DistributionRule{}, false, fmt.Errorf("select active rule: %w", err)
		}
	}
	return model.DistributionRule{}, false, nil
}

func (t *pgTx) ParentOf(ctx context.Context, memberID int64) (*int64, error) {
	var parentID *int64
	err := t.q.QueryRow(ctx, `SELECT parent_id FROM members WHERE id = $1`, memberID).Scan(&parentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrMemberNotFound, memberID)
		}
		return nil, fmt.Errorf("select parent: %w", err)
	}
	return parentID, nil
}

func (t *pgTx) InsertIncome(ctx context.Context, income *model.Income) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO incomes (to_member, from_member, purchase_id, level, amount, percentage)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric)
		 RETURNING id, created_at`,
		income.ToMember, income.FromMember, income.PurchaseID, income.Level,
		toCents(income.Amount), income.Percentage.String(),
	).Scan(&income.ID, &income.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert income: %w", err)
	}
	return nil
}

func (t *pgTx) InsertIncomeLog(ctx context.Context, entry *model.IncomeLog) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO income_logs (income_id, purchase_id, to_member, from_member, level, income_amount, percentage)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
		 RETURNING id, created_at`,
		entry.IncomeID, entry.PurchaseID, entry.ToMember, entry.FromMember, entry.Level,
		toCents(entry.IncomeAmount), entry.Percentage.String(),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert income log: %w", err)
	}
	return nil
}

func (t *pgTx) GetService(ctx context.Context, id int64) (*model.Service, error) {
	s, err := scanService(t.q.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrServiceNotFound, id)
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return s, nil
}

const purchaseColumns = `id, request_id, member_id, service_id, service_name, price, bv, rule_id,
	credits_written, levels_paid, status, created_at, completed_at`

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var (
		p      model.Purchase
		price  int64
		bv     *int64
		status string
	)
	err := row.Scan(&p.ID, &p.RequestID, &p.MemberID, &p.ServiceID, &p.ServiceName, &price, &bv, &p.RuleID,
		&p.CreditsWritten, &p.LevelsPaid, &status, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	p.Price = fromCents(price)
	if bv != nil {
		d := fromCents(*bv)
		p.BV = &d
	}
	p.Status = model.PurchaseStatus(status)
	return &p, nil
}

func (t *pgTx) FindPurchaseByRequest(ctx context.Context, memberID int64, requestID uuid.UUID) (*model.Purchase, error) {
	p, err := scanPurchase(t.q.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE member_id = $1 AND request_id = $2`,
		memberID, requestID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("find purchase: %w", err)
	}
	return p, nil
}

// InsertPendingPurchase сохраняет покупку без BV; BV проставляется в FinalizePurchase той же транзакции.
func (t *pgTx) InsertPendingPurchase(ctx context.Context, p *model.Purchase) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO purchases (request_id, member_id, service_id, service_name, price, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		p.RequestID, p.MemberID, p.ServiceID, p.ServiceName, toCents(p.Price), string(model.PurchaseStatusPending),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == constraintPurchaseRequest {
			return fmt.Errorf("%w: %s", ErrPurchaseExists, p.RequestID)
		}
		return fmt.Errorf("insert purchase: %w", err)
	}
	p.Status = model.PurchaseStatusPending
	return nil
}

func (t *pgTx) FinalizePurchase(ctx context.Context, p *model.Purchase) error {
	if p.BV == nil {
		return errors.New("finalize purchase: bv is not set")
	}

	var completedAt time.Time
	err := t.q.QueryRow(ctx,
		`UPDATE purchases
		 SET bv = $2, rule_id = $3, credits_written = $4, levels_paid = $5, status = $6, completed_at = now()
		 WHERE id = $1 AND status = $7
		 RETURNING completed_at`,
		p.ID, toCents(*p.BV), p.RuleID, p.CreditsWritten, p.LevelsPaid,
		string(model.PurchaseStatusCompleted), string(model.PurchaseStatusPending),
	).Scan(&completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: pending purchase %d", ErrPurchaseNotFound, p.ID)
		}
		return fmt.Errorf("finalize purchase: %w", err)
	}

	p.Status = model.PurchaseStatusCompleted
	p.CompletedAt = &completedAt
	return nil
}

func (t *pgTx) InsertRule(ctx context.Context, rule *model.DistributionRule) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO distribution_rules (base_percentage, decay_enabled)
		 VALUES ($1::numeric, $2)
		 RETURNING id, is_active, created_at`,
		rule.BasePercentage.String(), rule.DecayEnabled,
	).Scan(&rule.ID, &rule.IsActive, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (t *pgTx) LockRule(ctx context.Context, id int64) (*model.DistributionRule, error) {
	rule, err := scanRule(t.q.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM distribution_rules WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
		}
		return nil, fmt.Errorf("lock rule: %w", err)
	}
	return rule, nil
}

// DeactivateRules снимает активность с текущего правила и отмечает его замещённым.
func (t *pgTx) DeactivateRules(ctx context.Context) error {
	_, err := t.q.Exec(ctx,
		`UPDATE distribution_rules SET is_active = false, superseded_at = now() WHERE is_active`,
	)
	if err != nil {
		return fmt.Errorf("deactivate rules: %w", err)
	}
	return nil
}

func (t *pgTx) MarkRuleActive(ctx context.Context, id int64) (*model.DistributionRule, error) {
	rule, err := scanRule(t.q.QueryRow(ctx,
		`UPDATE distribution_rules SET is_active = true, activated_at = now()
		 WHERE id = $1
		 RETURNING `+ruleColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
		}
		if constraint, ok := uniqueViolation(err); ok && constraint == constraintSingleActive {
			return nil, fmt.Errorf("activate rule %d: %w", id, ErrActiveRuleConflict)
		}
		return nil, fmt.Errorf("activate rule: %w", err)
	}
	return rule, nil
}

func (t *pgTx) RuleReferenced(ctx context.Context, id int64) (bool, error) {
	var referenced bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM purchases WHERE rule_id = $1)`,
		id,
	).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("rule referenced: %w", err)
	}
	return referenced, nil
}

func (t *pgTx) UpdateRule(ctx context.Context, rule *model.DistributionRule) error {
	updated, err := scanRule(t.q.QueryRow(ctx,
		`UPDATE distribution_rules SET base_percentage = $2::numeric, decay_enabled = $3
		 WHERE id = $1
		 RETURNING `+ruleColumns,
		rule.ID, rule.BasePercentage.String(), rule.DecayEnabled,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrRuleNotFound, rule.ID)
		}
		return fmt.Errorf("update rule: %w", err)
	}
	*rule = *updated
	return nil
}
