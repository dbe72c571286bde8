package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mmeshcher/referral-bv-system/internal/middleware"
	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/validation"
)

type registerRequest struct {
	Login     string `json:"login" validate:"required,min=3,max=64,printascii"`
	Password  string `json:"password" validate:"required,min=6,max=72"`
	SponsorID *int64 `json:"sponsor_id,omitempty" validate:"omitempty,gt=0"`
}

type credentialsRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type memberResponse struct {
	ID        int64           `json:"id"`
	Login     string          `json:"login"`
	Role      model.Role      `json:"role"`
	SponsorID *int64          `json:"sponsor_id,omitempty"`
	ParentID  *int64          `json:"parent_id,omitempty"`
	Position  *model.Position `json:"position,omitempty"`
}

func newMemberResponse(m *model.Member) memberResponse {
	return memberResponse{
		ID:        m.ID,
		Login:     m.Login,
		Role:      m.Role,
		SponsorID: m.SponsorID,
		ParentID:  m.ParentID,
		Position:  m.Position,
	}
}

// Register регистрирует участника и размещает его в дереве спонсора.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := validation.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.service.RegisterMember(r.Context(), req.Login, req.Password, req.SponsorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, middleware.Principal{MemberID: m.ID, Role: m.Role}); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMemberResponse(m))
}

// Login выполняет аутентификацию участника и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := validation.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.service.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, middleware.Principal{MemberID: m.ID, Role: m.Role}); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMemberResponse(m))
}

// Me возвращает профиль текущего участника и его место в дереве.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	m, err := h.service.GetMember(r.Context(), p.MemberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMemberResponse(m))
}

// GetTree возвращает поддерево текущего участника. Администратор может
// запросить любое поддерево параметром root.
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	rootID := p.MemberID
	if raw := r.URL.Query().Get("root"); raw != "" {
		if !p.IsAdmin() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.writeError(w, r, &validation.Error{Message: "invalid root", Fields: map[string]string{"root": "must be a positive integer"}})
			return
		}
		rootID = id
	}

	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, &validation.Error{Message: "invalid depth", Fields: map[string]string{"depth": "must be an integer"}})
			return
		}
		depth = d
	}

	tree, err := h.service.GetTree(r.Context(), rootID, depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

type incomeResponse struct {
	ID         int64  `json:"id"`
	FromMember int64  `json:"from_member"`
	PurchaseID int64  `json:"purchase_id"`
	Level      int    `json:"level"`
	Amount     string `json:"amount"`
	Percentage string `json:"percentage"`
	CreatedAt  string `json:"created_at"`
}

func newIncomeResponses(incomes []model.Income) []incomeResponse {
	resp := make([]incomeResponse, 0, len(incomes))
	for _, inc := range incomes {
		resp = append(resp, incomeResponse{
			ID:         inc.ID,
			FromMember: inc.FromMember,
			PurchaseID: inc.PurchaseID,
			Level:      inc.Level,
			Amount:     money(inc.Amount),
			Percentage: inc.Percentage.String(),
			CreatedAt:  inc.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

// GetIncomes возвращает начисления текущему участнику.
func (h *Handler) GetIncomes(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	incomes, err := h.service.ListIncomes(r.Context(), p.MemberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(incomes) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newIncomeResponses(incomes))
}

type incomeSummaryResponse struct {
	Total   string `json:"total"`
	Credits int64  `json:"credits"`
}

// GetIncomeSummary возвращает сумму начислений текущему участнику.
func (h *Handler) GetIncomeSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	sum, err := h.service.IncomeSummary(r.Context(), p.MemberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, incomeSummaryResponse{Total: money(sum.Total), Credits: sum.Credits})
}
