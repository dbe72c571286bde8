package handler

import (
	"net/http"
	"time"

	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/service"
	"github.com/mmeshcher/referral-bv-system/internal/validation"
)

const idempotencyHeader = "Idempotency-Key"

type purchaseRequest struct {
	ServiceID int64 `json:"service_id" validate:"required,gt=0"`
}

type purchaseResponse struct {
	ID             int64   `json:"id"`
	RequestID      string  `json:"request_id"`
	ServiceID      int64   `json:"service_id"`
	ServiceName    string  `json:"service_name"`
	Price          string  `json:"price"`
	BV             *string `json:"bv,omitempty"`
	RuleID         *int64  `json:"rule_id,omitempty"`
	CreditsWritten int     `json:"credits_written"`
	LevelsPaid     int     `json:"levels_paid"`
	Status         string  `json:"status"`
	Distributed    *string `json:"distributed,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func newPurchaseResponse(res *service.PurchaseResult) purchaseResponse {
	p := res.Purchase
	resp := purchaseResponse{
		ID:             p.ID,
		RequestID:      p.RequestID.String(),
		ServiceID:      p.ServiceID,
		ServiceName:    p.ServiceName,
		Price:          money(p.Price),
		RuleID:         p.RuleID,
		CreditsWritten: p.CreditsWritten,
		LevelsPaid:     p.LevelsPaid,
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
	if p.BV != nil {
		bv := money(*p.BV)
		resp.BV = &bv
	}
	if !res.Replayed && p.Status == model.PurchaseStatusCompleted {
		total := money(res.Total)
		resp.Distributed = &total
	}
	return resp
}

// CreatePurchase проводит покупку услуги текущим участником. Ключ идемпотентности
// обязателен; повтор запроса с тем же ключом возвращает 200 и исходную покупку.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	requestID, err := validation.ParseIdempotencyKey(r.Header.Get(idempotencyHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req purchaseRequest
	if err := validation.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.CreatePurchase(r.Context(), p.MemberID, req.ServiceID, requestID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, newPurchaseResponse(res))
}

type purchaseIncomesResponse struct {
	PurchaseID  int64            `json:"purchase_id"`
	Incomes     []incomeResponse `json:"incomes"`
	Total       string           `json:"total"`
	LoggedTotal string           `json:"logged_total"`
	Reconciled  bool             `json:"reconciled"`
}

// GetPurchaseIncomes возвращает начисления по покупке со сверкой журнала.
func (h *Handler) GetPurchaseIncomes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.GetPurchaseIncomes(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, purchaseIncomesResponse{
		PurchaseID:  id,
		Incomes:     newIncomeResponses(res.Incomes),
		Total:       money(res.Total),
		LoggedTotal: money(res.LoggedTotal),
		Reconciled:  res.Reconciled(),
	})
}
