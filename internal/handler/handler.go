// Package handler содержит HTTP-обработчики API реферальной системы.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-bv-system/internal/distribution"
	"github.com/mmeshcher/referral-bv-system/internal/middleware"
	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/placement"
	"github.com/mmeshcher/referral-bv-system/internal/repository"
	"github.com/mmeshcher/referral-bv-system/internal/service"
	"github.com/mmeshcher/referral-bv-system/internal/validation"
)

const healthTimeout = 2 * time.Second

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error

	RegisterMember(ctx context.Context, login, password string, sponsorID *int64) (*model.Member, error)
	Authenticate(ctx context.Context, login, password string) (*model.Member, error)
	GetMember(ctx context.Context, id int64) (*model.Member, error)
	GetTree(ctx context.Context, rootID int64, depth int) (*model.TreeNode, error)
	ListIncomes(ctx context.Context, memberID int64) ([]model.Income, error)
	IncomeSummary(ctx context.Context, memberID int64) (model.IncomeSummary, error)

	CreatePurchase(ctx context.Context, memberID, serviceID int64, requestID uuid.UUID) (*service.PurchaseResult, error)
	GetPurchaseIncomes(ctx context.Context, purchaseID int64) (*service.PurchaseIncomes, error)

	ListRules(ctx context.Context) ([]model.DistributionRule, error)
	GetRule(ctx context.Context, id int64) (*model.DistributionRule, error)
	ActiveRule(ctx context.Context) (*model.DistributionRule, error)
	CreateRule(ctx context.Context, base decimal.Decimal, decay, activate bool) (*model.DistributionRule, error)
	ActivateRule(ctx context.Context, id int64) (*model.DistributionRule, error)
	UpdateRule(ctx context.Context, id int64, base decimal.Decimal, decay bool) (*model.DistributionRule, error)

	CreateService(ctx context.Context, name string, price, bv decimal.Decimal, active bool) (*model.Service, error)
	ListServices(ctx context.Context) ([]model.Service, error)
	TotalDistributed(ctx context.Context) (decimal.Decimal, error)
}

// Config задаёт необязательные зависимости обработчика.
type Config struct {
	// RateLimit ограничивает регистрацию и вход с одного адреса.
	RateLimit middleware.RateLimitPolicy
	Counter   middleware.CounterStore
	// Gatherer отдаётся на /metrics; по умолчанию prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Handler реализует HTTP-обработчики API реферальной системы.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	cfg            Config
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, cfg Config) *Handler {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		cfg:            cfg,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor сопоставляет доменную ошибку HTTP-статусу.
func statusFor(err error) int {
	var verr *validation.Error
	switch {
	case errors.Is(err, service.ErrTransactionAborted):
		return http.StatusInternalServerError
	case errors.As(err, &verr),
		errors.Is(err, validation.ErrInvalidIdempotencyKey),
		errors.Is(err, service.ErrInvalidRule),
		errors.Is(err, service.ErrInvalidService),
		errors.Is(err, distribution.ErrInvalidBV):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrMemberNotFound),
		errors.Is(err, placement.ErrSponsorNotFound),
		errors.Is(err, repository.ErrServiceNotFound),
		errors.Is(err, repository.ErrRuleNotFound),
		errors.Is(err, repository.ErrPurchaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrMemberExists),
		errors.Is(err, distribution.ErrNoActiveRule),
		errors.Is(err, service.ErrServiceInactive),
		errors.Is(err, service.ErrRuleImmutable),
		errors.Is(err, service.ErrRuleTransition),
		errors.Is(err, repository.ErrActiveRuleConflict):
		return http.StatusConflict
	case errors.Is(err, placement.ErrPlacementConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError пишет ошибку в ответ. Ошибки сервера логируются, клиенту уходит только статус.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var verr *validation.Error
	if errors.As(err, &verr) {
		writeJSON(w, status, verr)
		return
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return p, ok
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &validation.Error{Message: "invalid " + name, Fields: map[string]string{name: "must be a positive integer"}}
	}
	return id, nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Healthz проверяет доступность хранилища.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
