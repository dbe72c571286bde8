// Package model содержит доменные сущности реферальной системы начисления BV.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position описывает сторону, которую участник занимает под родителем в бинарном дереве.
type Position string

const (
	PositionLeft  Position = "left"
	PositionRight Position = "right"
)

// Valid сообщает, является ли позиция допустимой стороной дерева.
func (p Position) Valid() bool {
	return p == PositionLeft || p == PositionRight
}

// Role описывает роль участника.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Member представляет узел бинарного дерева.
// ParentID указывает на родителя в дереве, SponsorID на пригласившего участника.
type Member struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	SponsorID    *int64
	ParentID     *int64
	Position     *Position
	CreatedAt    time.Time
}

// Placement описывает найденное свободное место в дереве.
type Placement struct {
	ParentID int64
	Position Position
}

// RuleStatus описывает стадию жизненного цикла правила распределения.
type RuleStatus string

const (
	RuleStatusDraft      RuleStatus = "draft"
	RuleStatusActive     RuleStatus = "active"
	RuleStatusSuperseded RuleStatus = "superseded"
)

// DistributionRule описывает политику начислений: базовый процент и признак затухания.
type DistributionRule struct {
	ID             int64           `json:"id"`
	BasePercentage decimal.Decimal `json:"base_percentage"`
	DecayEnabled   bool            `json:"decay_enabled"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	ActivatedAt    *time.Time      `json:"activated_at,omitempty"`
	SupersededAt   *time.Time      `json:"superseded_at,omitempty"`
}

// Status вычисляет стадию правила по отметкам активации.
func (r DistributionRule) Status() RuleStatus {
	switch {
	case r.IsActive:
		return RuleStatusActive
	case r.SupersededAt != nil:
		return RuleStatusSuperseded
	default:
		return RuleStatusDraft
	}
}

// Service описывает позицию каталога, которую может купить участник.
type Service struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	BV        decimal.Decimal `json:"bv"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// PurchaseStatus описывает статус покупки.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
)

// Purchase описывает покупку услуги участником вместе со снимком услуги.
// BV равен nil, пока распределение не завершено.
type Purchase struct {
	ID             int64
	RequestID      uuid.UUID
	MemberID       int64
	ServiceID      int64
	ServiceName    string
	Price          decimal.Decimal
	BV             *decimal.Decimal
	RuleID         *int64
	CreditsWritten int
	LevelsPaid     int
	Status         PurchaseStatus
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Income фиксирует начисление предку за покупку. Никогда не изменяется.
type Income struct {
	ID         int64
	ToMember   int64
	FromMember int64
	PurchaseID int64
	Level      int
	Amount     decimal.Decimal
	Percentage decimal.Decimal
	CreatedAt  time.Time
}

// IncomeLog дублирует каждую запись Income для агрегированной отчётности.
type IncomeLog struct {
	ID           int64
	IncomeID     int64
	PurchaseID   int64
	ToMember     int64
	FromMember   int64
	Level        int
	IncomeAmount decimal.Decimal
	Percentage   decimal.Decimal
	CreatedAt    time.Time
}

// IncomeSummary содержит сумму начислений участника.
type IncomeSummary struct {
	Total   decimal.Decimal `json:"total"`
	Credits int64           `json:"credits"`
}

// TreeNode представляет узел проекции поддерева для просмотра.
type TreeNode struct {
	ID       int64       `json:"id"`
	Login    string      `json:"login"`
	Position *Position   `json:"position,omitempty"`
	Left     *TreeNode   `json:"left,omitempty"`
	Right    *TreeNode   `json:"right,omitempty"`
	Legacy   []*TreeNode `json:"legacy,omitempty"`
}
