// Package distribution распределяет BV покупки по цепочке предков.
package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

var (
	// ErrNoActiveRule возвращается, если нет активного правила распределения.
	ErrNoActiveRule = errors.New("no active distribution rule")
	// ErrAncestorCycle возвращается, если цепочка родителей замкнулась.
	ErrAncestorCycle = errors.New("ancestor chain contains a cycle")
	// ErrInvalidBV возвращается для отрицательного BV.
	ErrInvalidBV = errors.New("bv must not be negative")
)

// Ledger — транзакционный доступ, в рамках которого выполняется распределение.
// Все записи делаются в той же транзакции, что и создание покупки.
type Ledger interface {
	// ActiveRule возвращает активное правило; found=false, если его нет.
	ActiveRule(ctx context.Context) (rule model.DistributionRule, found bool, err error)
	// ParentOf возвращает родителя участника или nil для корня.
	ParentOf(ctx context.Context, memberID int64) (*int64, error)
	InsertIncome(ctx context.Context, income *model.Income) error
	InsertIncomeLog(ctx context.Context, entry *model.IncomeLog) error
}

// Result описывает итог распределения для записи в покупку.
type Result struct {
	BV             decimal.Decimal
	RuleID         int64
	CreditsWritten int
	LevelsPaid     int
	Total          decimal.Decimal
}

// Engine проходит вверх по дереву и начисляет доход предкам.
type Engine struct {
	logger *zap.Logger
}

// NewEngine создаёт движок распределения.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Distribute начисляет доход всем предкам покупателя по активному правилу.
// Обход заканчивается на корне или когда начисление округляется до нуля.
// Любая ошибка записи должна приводить к откату всей транзакции вызывающей стороной.
func (e *Engine) Distribute(ctx context.Context, ledger Ledger, purchaserID int64, bv decimal.Decimal, purchaseID int64) (Result, error) {
	if bv.IsNegative() {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidBV, bv)
	}

	rule, found, err := ledger.ActiveRule(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read active rule: %w", err)
	}
	if !found {
		return Result{}, ErrNoActiveRule
	}

	schedule := ScheduleFor(rule)
	res := Result{BV: bv, RuleID: rule.ID, Total: decimal.Zero}

	visited := map[int64]struct{}{purchaserID: {}}
	current := purchaserID

	for level, percentage := range schedule.Levels() {
		parentID, err := ledger.ParentOf(ctx, current)
		if err != nil {
			return Result{}, fmt.Errorf("read parent of member %d: %w", current, err)
		}
		if parentID == nil {
			break
		}
		if _, seen := visited[*parentID]; seen {
			return Result{}, fmt.Errorf("%w: member %d reached again at level %d", ErrAncestorCycle, *parentID, level)
		}
		visited[*parentID] = struct{}{}

		if percentage.LessThan(minPercentage) {
			break
		}

		amount := Amount(bv, percentage)
		if amount.Sign() <= 0 {
			break
		}

		income := model.Income{
			ToMember:   *parentID,
			FromMember: purchaserID,
			PurchaseID: purchaseID,
			Level:      level,
			Amount:     amount,
			Percentage: percentage,
		}
		if err := ledger.InsertIncome(ctx, &income); err != nil {
			return Result{}, fmt.Errorf("credit member %d at level %d: %w", *parentID, level, err)
		}

		entry := model.IncomeLog{
			IncomeID:     income.ID,
			PurchaseID:   purchaseID,
			ToMember:     *parentID,
			FromMember:   purchaserID,
			Level:        level,
			IncomeAmount: amount,
			Percentage:   percentage,
		}
		if err := ledger.InsertIncomeLog(ctx, &entry); err != nil {
			return Result{}, fmt.Errorf("log credit of member %d at level %d: %w", *parentID, level, err)
		}

		res.CreditsWritten++
		res.LevelsPaid = level
		res.Total = res.Total.Add(amount)
		current = *parentID
	}

	e.logger.Debug("bv distributed",
		zap.Int64("purchaseID", purchaseID),
		zap.Int64("purchaserID", purchaserID),
		zap.String("bv", bv.String()),
		zap.Int64("ruleID", rule.ID),
		zap.Int("levelsPaid", res.LevelsPaid),
		zap.String("total", res.Total.String()),
	)

	return res, nil
}
