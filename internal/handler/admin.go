package handler

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-bv-system/internal/distribution"
	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/validation"
)

type ruleRequest struct {
	BasePercentage *decimal.Decimal `json:"base_percentage" validate:"required,gte=0,lte=1"`
	DecayEnabled   bool             `json:"decay_enabled"`
	Activate       bool             `json:"activate"`
}

type ruleUpdateRequest struct {
	BasePercentage *decimal.Decimal `json:"base_percentage" validate:"required,gte=0,lte=1"`
	DecayEnabled   bool             `json:"decay_enabled"`
}

type ruleResponse struct {
	model.DistributionRule
	Status model.RuleStatus `json:"status"`
}

func newRuleResponse(rule *model.DistributionRule) ruleResponse {
	return ruleResponse{DistributionRule: *rule, Status: rule.Status()}
}

// ListRules возвращает все правила распределения.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]ruleResponse, 0, len(rules))
	for i := range rules {
		resp = append(resp, newRuleResponse(&rules[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRule возвращает правило по идентификатору.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rule, err := h.service.GetRule(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRuleResponse(rule))
}

// ActiveRule возвращает действующее правило. Если правило не активировано, отвечает 404.
func (h *Handler) ActiveRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.ActiveRule(r.Context())
	if errors.Is(err, distribution.ErrNoActiveRule) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRuleResponse(rule))
}

// CreateRule создаёт правило распределения, при activate сразу активирует его.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := validation.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rule, err := h.service.CreateRule(r.Context(), *req.BasePercentage, req.DecayEnabled, req.Activate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRuleResponse(rule))
}

// ActivateRule активирует правило и замещает текущее активное.
func (h *Handler) ActivateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rule, err := h.service.ActivateRule(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRuleResponse(rule))
}

// UpdateRule меняет параметры правила, не применённого ни к одной покупке.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req ruleUpdateRequest
	if err := validation.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rule, err := h.service.UpdateRule(r.Context(), id, *req.BasePercentage, req.DecayEnabled)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRuleResponse(rule))
}

type serviceRequest struct {
	Name   string           `json:"name" validate:"required,max=200"`
	Price  *decimal.Decimal `json:"price" validate:"required,gte=0"`
	BV     *decimal.Decimal `json:"bv" validate:"required,gte=0"`
	Active *bool            `json:"active,omitempty"`
}

// CreateService добавляет услугу в каталог. Без поля active услуга создаётся активной.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := validation.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	svc, err := h.service.CreateService(r.Context(), req.Name, *req.Price, *req.BV, active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

// ListServices возвращает каталог услуг.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.ListServices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if services == nil {
		services = []model.Service{}
	}
	writeJSON(w, http.StatusOK, services)
}

type totalResponse struct {
	Total string `json:"total"`
}

// TotalDistributed возвращает сумму всех начислений.
func (h *Handler) TotalDistributed(w http.ResponseWriter, r *http.Request) {
	total, err := h.service.TotalDistributed(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totalResponse{Total: money(total)})
}
