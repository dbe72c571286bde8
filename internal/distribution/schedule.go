package distribution

import (
	"iter"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

// MinorUnits — число знаков после запятой у минимальной денежной единицы.
const MinorUnits = 2

const percentagePrecision = 30

var (
	two = decimal.NewFromInt(2)
	// minPercentage — порог, ниже которого процент считается исчезающе малым.
	minPercentage = decimal.New(1, -12)
)

// Schedule вычисляет процент начисления для каждого уровня по правилу.
type Schedule struct {
	Base  decimal.Decimal
	Decay bool
}

// ScheduleFor строит шкалу процентов по правилу распределения.
func ScheduleFor(rule model.DistributionRule) Schedule {
	return Schedule{Base: rule.BasePercentage, Decay: rule.DecayEnabled}
}

// Levels перечисляет уровни начиная с 1 (непосредственный родитель) и процент каждого.
// При затухании каждый следующий уровень получает половину предыдущего.
// Последовательность бесконечна, остановка остаётся за вызывающей стороной.
func (s Schedule) Levels() iter.Seq2[int, decimal.Decimal] {
	return func(yield func(int, decimal.Decimal) bool) {
		p := s.Base
		for level := 1; ; level++ {
			if !yield(level, p) {
				return
			}
			p = s.next(p)
		}
	}
}

func (s Schedule) next(p decimal.Decimal) decimal.Decimal {
	if !s.Decay {
		return p
	}
	return p.DivRound(two, percentagePrecision)
}

// Amount возвращает начисление, округлённое до минимальной денежной единицы.
func Amount(bv, percentage decimal.Decimal) decimal.Decimal {
	return bv.Mul(percentage).Round(MinorUnits)
}
