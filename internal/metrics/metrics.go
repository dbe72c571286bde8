// Package metrics содержит метрики Prometheus для размещения и распределения BV.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Compensation собирает метрики движков размещения и распределения.
// Все методы безопасны для nil-получателя.
type Compensation struct {
	placements    *prometheus.CounterVec
	conflicts     prometheus.Counter
	distributions *prometheus.CounterVec
	credited      prometheus.Counter
	levels        prometheus.Histogram
}

// NewCompensation регистрирует метрики на переданном регистраторе.
func NewCompensation(reg prometheus.Registerer) *Compensation {
	if reg == nil {
		return &Compensation{}
	}
	placements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_placements_total",
		Help: "Placement attempts by result.",
	}, []string{"result"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "referral_placement_conflicts_total",
		Help: "Placement slot races lost to a concurrent insert.",
	})
	distributions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_distributions_total",
		Help: "BV distributions by result.",
	}, []string{"result"})
	credited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "referral_income_credited_total",
		Help: "Income credited to ancestors, in currency units.",
	})
	levels := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "referral_distribution_levels",
		Help:    "Ancestor levels paid per purchase.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})
	reg.MustRegister(placements, conflicts, distributions, credited, levels)
	return &Compensation{
		placements:    placements,
		conflicts:     conflicts,
		distributions: distributions,
		credited:      credited,
		levels:        levels,
	}
}

// ObservePlacement фиксирует итог размещения участника.
func (c *Compensation) ObservePlacement(result string) {
	if c == nil || c.placements == nil {
		return
	}
	c.placements.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncPlacementConflict фиксирует проигранную гонку за слот.
func (c *Compensation) IncPlacementConflict() {
	if c == nil || c.conflicts == nil {
		return
	}
	c.conflicts.Inc()
}

// ObserveDistribution фиксирует итог распределения по покупке.
func (c *Compensation) ObserveDistribution(result string, levels int, total decimal.Decimal) {
	if c == nil || c.distributions == nil {
		return
	}
	c.distributions.WithLabelValues(normalizeLabel(result)).Inc()
	if result != "ok" {
		return
	}
	c.levels.Observe(float64(levels))
	c.credited.Add(total.InexactFloat64())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
