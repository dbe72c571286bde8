// Package service реализует бизнес-логику реферальной системы: регистрацию с размещением
// в бинарном дереве, покупки с распределением BV и управление правилами начислений.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/referral-bv-system/internal/distribution"
	"github.com/mmeshcher/referral-bv-system/internal/metrics"
	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/placement"
	"github.com/mmeshcher/referral-bv-system/internal/repository"
)

var (
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTransactionAborted возвращается, если покупка откатилась из-за ошибки записи.
	// Частичных начислений при этом не остаётся, запрос можно повторить.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrServiceInactive возвращается при покупке выключенной услуги.
	ErrServiceInactive = errors.New("service is not active")
	// ErrInvalidRule возвращается для правила с процентом вне [0, 1].
	ErrInvalidRule = errors.New("base percentage must be within [0, 1]")
	// ErrRuleTransition возвращается при недопустимом переходе состояния правила.
	ErrRuleTransition = errors.New("rule state transition not allowed")
	// ErrRuleImmutable возвращается при изменении правила, уже применённого к покупкам.
	ErrRuleImmutable = errors.New("rule is referenced by purchases and cannot be changed")
	// ErrInvalidService возвращается для услуги с некорректными суммами.
	ErrInvalidService = errors.New("invalid service")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	placement.Store

	Close() error
	Ping(ctx context.Context) error
	CreateMember(ctx context.Context, m repository.NewMember) (int64, error)
	GetMember(ctx context.Context, id int64) (*model.Member, error)
	GetMemberByLogin(ctx context.Context, login string) (*model.Member, error)
	ChildrenOf(ctx context.Context, parentIDs []int64) ([]model.Member, error)

	WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error

	ListRules(ctx context.Context) ([]model.DistributionRule, error)
	GetRule(ctx context.Context, id int64) (*model.DistributionRule, error)
	ActiveRule(ctx context.Context) (*model.DistributionRule, bool, error)
	CreateService(ctx context.Context, s *model.Service) error
	ListServices(ctx context.Context) ([]model.Service, error)

	ListIncomesByMember(ctx context.Context, memberID int64) ([]model.Income, error)
	ListIncomesByPurchase(ctx context.Context, purchaseID int64) ([]model.Income, error)
	IncomeSummary(ctx context.Context, memberID int64) (model.IncomeSummary, error)
	LoggedTotalByPurchase(ctx context.Context, purchaseID int64) (decimal.Decimal, error)
	TotalDistributed(ctx context.Context) (decimal.Decimal, error)
}

// Options задаёт параметры сервиса.
type Options struct {
	PlacementMaxAttempts int
	PlacementVisitLimit  int
	// AdminLogin — логин, который при регистрации получает роль администратора.
	AdminLogin   string
	PasswordCost int
	Logger       *zap.Logger
	Metrics      *metrics.Compensation
}

// Service содержит бизнес-логику реферальной системы.
type Service struct {
	repo         Repository
	placement    *placement.Engine
	distribution *distribution.Engine
	metrics      *metrics.Compensation
	logger       *zap.Logger
	adminLogin   string
	passwordCost int
}

// NewService создаёт сервис поверх репозитория.
func NewService(repo Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := opts.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	return &Service{
		repo: repo,
		placement: placement.NewEngine(repo, placement.Options{
			VisitLimit:  opts.PlacementVisitLimit,
			MaxAttempts: opts.PlacementMaxAttempts,
			Logger:      logger.Named("placement"),
		}),
		distribution: distribution.NewEngine(logger.Named("distribution")),
		metrics:      opts.Metrics,
		logger:       logger,
		adminLogin:   opts.AdminLogin,
		passwordCost: cost,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// RegisterMember регистрирует участника. Со спонсором участник размещается
// в ближайшем свободном месте его поддерева, без спонсора становится корнем.
func (s *Service) RegisterMember(ctx context.Context, login, password string, sponsorID *int64) (*model.Member, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := model.RoleMember
	if s.adminLogin != "" && login == s.adminLogin {
		role = model.RoleAdmin
	}

	nm := repository.NewMember{
		Login:        login,
		PasswordHash: hash,
		Role:         role,
		SponsorID:    sponsorID,
	}

	if sponsorID == nil {
		id, err := s.repo.CreateMember(ctx, nm)
		if err != nil {
			return nil, err
		}
		s.metrics.ObservePlacement("root")
		return &model.Member{ID: id, Login: login, Role: role}, nil
	}

	var id int64
	p, err := s.placement.Place(ctx, *sponsorID, func(ctx context.Context, p model.Placement) error {
		parentID, pos := p.ParentID, p.Position
		nm.ParentID = &parentID
		nm.Position = &pos

		newID, err := s.repo.CreateMember(ctx, nm)
		if errors.Is(err, repository.ErrSlotTaken) {
			s.metrics.IncPlacementConflict()
			return fmt.Errorf("%w: %w", placement.ErrPlacementConflict, err)
		}
		if err != nil {
			return err
		}
		id = newID
		return nil
	})
	if err != nil {
		s.metrics.ObservePlacement(placementResult(err))
		if errors.Is(err, placement.ErrPlacementExhausted) {
			s.logger.Error("placement exhausted, tree data needs inspection",
				zap.Int64("sponsorID", *sponsorID), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.ObservePlacement("ok")
	s.logger.Info("member placed",
		zap.Int64("memberID", id),
		zap.Int64("sponsorID", *sponsorID),
		zap.Int64("parentID", p.ParentID),
		zap.String("position", string(p.Position)),
	)

	pos := p.Position
	return &model.Member{
		ID:        id,
		Login:     login,
		Role:      role,
		SponsorID: sponsorID,
		ParentID:  &p.ParentID,
		Position:  &pos,
	}, nil
}

func placementResult(err error) string {
	switch {
	case errors.Is(err, placement.ErrPlacementConflict):
		return "conflict"
	case errors.Is(err, placement.ErrPlacementExhausted):
		return "exhausted"
	case errors.Is(err, placement.ErrSponsorNotFound):
		return "sponsor_not_found"
	case errors.Is(err, repository.ErrMemberExists):
		return "duplicate"
	default:
		return "error"
	}
}

// Authenticate проверяет логин и пароль и возвращает участника.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*model.Member, error) {
	m, err := s.repo.GetMemberByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(m.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return m, nil
}
