package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-bv-system/internal/distribution"
	"github.com/mmeshcher/referral-bv-system/internal/middleware"
	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/placement"
	"github.com/mmeshcher/referral-bv-system/internal/repository"
	"github.com/mmeshcher/referral-bv-system/internal/service"
)

type stubService struct {
	pingErr error

	member      *model.Member
	registerErr error
	authErr     error
	gotSponsor  *int64
	gotMemberID int64

	tree      *model.TreeNode
	treeErr   error
	treeRoot  int64
	treeDepth int

	incomes []model.Income
	summary model.IncomeSummary

	purchase    *service.PurchaseResult
	purchaseErr error
	gotRequest  uuid.UUID

	purchaseIncomes *service.PurchaseIncomes

	rule      *model.DistributionRule
	ruleErr   error
	gotBase   decimal.Decimal
	gotRuleID int64
	rules     []model.DistributionRule
	services  []model.Service
	total     decimal.Decimal
}

func (s *stubService) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubService) RegisterMember(ctx context.Context, login, password string, sponsorID *int64) (*model.Member, error) {
	s.gotSponsor = sponsorID
	return s.member, s.registerErr
}

func (s *stubService) Authenticate(ctx context.Context, login, password string) (*model.Member, error) {
	return s.member, s.authErr
}

func (s *stubService) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	s.gotMemberID = id
	if s.member == nil {
		return nil, fmt.Errorf("%w: %d", repository.ErrMemberNotFound, id)
	}
	return s.member, nil
}

func (s *stubService) GetTree(ctx context.Context, rootID int64, depth int) (*model.TreeNode, error) {
	s.treeRoot, s.treeDepth = rootID, depth
	return s.tree, s.treeErr
}

func (s *stubService) ListIncomes(ctx context.Context, memberID int64) ([]model.Income, error) {
	return s.incomes, nil
}

func (s *stubService) IncomeSummary(ctx context.Context, memberID int64) (model.IncomeSummary, error) {
	return s.summary, nil
}

func (s *stubService) CreatePurchase(ctx context.Context, memberID, serviceID int64, requestID uuid.UUID) (*service.PurchaseResult, error) {
	s.gotRequest = requestID
	return s.purchase, s.purchaseErr
}

func (s *stubService) GetPurchaseIncomes(ctx context.Context, purchaseID int64) (*service.PurchaseIncomes, error) {
	return s.purchaseIncomes, nil
}

func (s *stubService) ListRules(ctx context.Context) ([]model.DistributionRule, error) {
	return s.rules, nil
}

func (s *stubService) GetRule(ctx context.Context, id int64) (*model.DistributionRule, error) {
	s.gotRuleID = id
	return s.rule, s.ruleErr
}

func (s *stubService) ActiveRule(ctx context.Context) (*model.DistributionRule, error) {
	return s.rule, s.ruleErr
}

func (s *stubService) CreateRule(ctx context.Context, base decimal.Decimal, decay, activate bool) (*model.DistributionRule, error) {
	s.gotBase = base
	return s.rule, s.ruleErr
}

func (s *stubService) ActivateRule(ctx context.Context, id int64) (*model.DistributionRule, error) {
	return s.rule, s.ruleErr
}

func (s *stubService) UpdateRule(ctx context.Context, id int64, base decimal.Decimal, decay bool) (*model.DistributionRule, error) {
	s.gotBase = base
	return s.rule, s.ruleErr
}

func (s *stubService) CreateService(ctx context.Context, name string, price, bv decimal.Decimal, active bool) (*model.Service, error) {
	return &model.Service{ID: 1, Name: name, Price: price, BV: bv, Active: active}, nil
}

func (s *stubService) ListServices(ctx context.Context) ([]model.Service, error) {
	return s.services, nil
}

func (s *stubService) TotalDistributed(ctx context.Context) (decimal.Decimal, error) {
	return s.total, nil
}

type testServer struct {
	router http.Handler
	auth   *middleware.AuthMiddleware
}

func newTestServer(t *testing.T, svc Service) *testServer {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth, Config{Gatherer: prometheus.NewRegistry()})
	return &testServer{router: h.SetupRouter(), auth: auth}
}

func (ts *testServer) do(t *testing.T, method, path, body string, as *middleware.Principal, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	if as != nil {
		rec := httptest.NewRecorder()
		require.NoError(t, ts.auth.SetAuthCookie(rec, *as))
		req.AddCookie(rec.Result().Cookies()[0])
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

var (
	memberPrincipal = &middleware.Principal{MemberID: 5, Role: model.RoleMember}
	adminPrincipal  = &middleware.Principal{MemberID: 1, Role: model.RoleAdmin}
)

func ptr[T any](v T) *T { return &v }

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		member: &model.Member{ID: 42, Login: "user", Role: model.RoleMember, SponsorID: ptr(int64(7)), ParentID: ptr(int64(9)), Position: ptr(model.PositionRight)},
	}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/members/register", `{"login":"user","password":"secret","sponsor_id":7}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Result().Cookies())
	require.NotNil(t, svc.gotSponsor)
	assert.Equal(t, int64(7), *svc.gotSponsor)

	var resp memberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.ID)
	assert.Equal(t, int64(9), *resp.ParentID)
	assert.Equal(t, model.PositionRight, *resp.Position)
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "malformed", body: `{"login":`, want: http.StatusBadRequest},
		{name: "short password", body: `{"login":"user","password":"1"}`, want: http.StatusBadRequest},
		{name: "duplicate login", body: `{"login":"user","password":"secret"}`, err: repository.ErrMemberExists, want: http.StatusConflict},
		{name: "unknown sponsor", body: `{"login":"user","password":"secret","sponsor_id":3}`, err: placement.ErrSponsorNotFound, want: http.StatusNotFound},
		{name: "placement contention", body: `{"login":"user","password":"secret","sponsor_id":3}`, err: fmt.Errorf("after 5 attempts: %w", placement.ErrPlacementConflict), want: http.StatusServiceUnavailable},
		{name: "corrupt tree", body: `{"login":"user","password":"secret","sponsor_id":3}`, err: placement.ErrPlacementExhausted, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubService{registerErr: tt.err})
			rec := ts.do(t, http.MethodPost, "/api/members/register", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestLogin(t *testing.T) {
	svc := &stubService{member: &model.Member{ID: 3, Login: "u", Role: model.RoleAdmin}}
	ts := newTestServer(t, svc)
	rec := ts.do(t, http.MethodPost, "/api/members/login", `{"login":"u","password":"p"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	// Выданный cookie открывает профиль и права администратора.
	for _, path := range []string{"/api/members/me", "/api/admin/reports/total-distributed"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.AddCookie(cookies[0])
		me := httptest.NewRecorder()
		ts.router.ServeHTTP(me, req)
		assert.Equal(t, http.StatusOK, me.Code, path)
	}
	assert.Equal(t, int64(3), svc.gotMemberID)

	ts = newTestServer(t, &stubService{authErr: service.ErrInvalidCredentials})
	rec = ts.do(t, http.MethodPost, "/api/members/login", `{"login":"u","password":"p"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	svc := &stubService{member: &model.Member{ID: 3, Login: "u", Role: model.RoleMember}}
	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth, Config{
		RateLimit: middleware.RateLimitPolicy{Name: "auth", Window: time.Minute, Limit: 1},
		Counter:   &countingStore{counts: map[string]int64{}},
		Gatherer:  prometheus.NewRegistry(),
	})
	router := h.SetupRouter()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/members/login", strings.NewReader(`{"login":"u","password":"p"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

type countingStore struct {
	counts map[string]int64
}

func (c *countingStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.counts[key]++
	return c.counts[key], nil
}

func TestGetTree(t *testing.T) {
	svc := &stubService{tree: &model.TreeNode{ID: 5, Login: "me", Left: &model.TreeNode{ID: 6, Login: "l"}}}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodGet, "/api/members/me/tree?depth=4", "", memberPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5), svc.treeRoot)
	assert.Equal(t, 4, svc.treeDepth)

	var tree model.TreeNode
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	require.NotNil(t, tree.Left)
	assert.Equal(t, int64(6), tree.Left.ID)

	rec = ts.do(t, http.MethodGet, "/api/members/me/tree?depth=x", "", memberPrincipal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/members/me/tree?root=2", "", memberPrincipal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/members/me/tree?root=2", "", adminPrincipal)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), svc.treeRoot)

	rec = ts.do(t, http.MethodGet, "/api/members/me/tree", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetIncomes(t *testing.T) {
	svc := &stubService{}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodGet, "/api/members/me/incomes", "", memberPrincipal)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	svc.incomes = []model.Income{{
		ID: 1, ToMember: 5, FromMember: 9, PurchaseID: 3, Level: 2,
		Amount: decimal.RequireFromString("160"), Percentage: decimal.RequireFromString("0.05"),
		CreatedAt: time.Now(),
	}}
	rec = ts.do(t, http.MethodGet, "/api/members/me/incomes", "", memberPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp []incomeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "160.00", resp[0].Amount)
	assert.Equal(t, "0.05", resp[0].Percentage)

	svc.summary = model.IncomeSummary{Total: decimal.RequireFromString("320.5"), Credits: 2}
	rec = ts.do(t, http.MethodGet, "/api/members/me/income-summary", "", memberPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":"320.50","credits":2}`, rec.Body.String())
}

func completedPurchase() *model.Purchase {
	bv := decimal.RequireFromString("3200")
	return &model.Purchase{
		ID: 11, RequestID: uuid.New(), MemberID: 5, ServiceID: 2, ServiceName: "course",
		Price: decimal.RequireFromString("99.9"), BV: &bv, RuleID: ptr(int64(1)),
		CreditsWritten: 6, LevelsPaid: 6, Status: model.PurchaseStatusCompleted, CreatedAt: time.Now(),
	}
}

func TestCreatePurchase(t *testing.T) {
	key := uuid.New()
	svc := &stubService{purchase: &service.PurchaseResult{Purchase: completedPurchase(), Total: decimal.RequireFromString("630")}}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/purchases", `{"service_id":2}`, memberPrincipal, "Idempotency-Key", key.String())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, key, svc.gotRequest)

	var resp purchaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "3200.00", *resp.BV)
	assert.Equal(t, "630.00", *resp.Distributed)
	assert.Equal(t, "99.90", resp.Price)

	svc.purchase = &service.PurchaseResult{Purchase: completedPurchase(), Replayed: true}
	rec = ts.do(t, http.MethodPost, "/api/purchases", `{"service_id":2}`, memberPrincipal, "Idempotency-Key", key.String())
	require.Equal(t, http.StatusOK, rec.Code)
	resp = purchaseResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Distributed)
}

func TestCreatePurchase_Errors(t *testing.T) {
	key := uuid.New().String()

	tests := []struct {
		name   string
		body   string
		header string
		err    error
		want   int
	}{
		{name: "missing key", body: `{"service_id":2}`, want: http.StatusBadRequest},
		{name: "bad key", body: `{"service_id":2}`, header: "nope", want: http.StatusBadRequest},
		{name: "missing service", body: `{}`, header: key, want: http.StatusBadRequest},
		{name: "no active rule", body: `{"service_id":2}`, header: key, err: distribution.ErrNoActiveRule, want: http.StatusConflict},
		{name: "unknown service", body: `{"service_id":2}`, header: key, err: repository.ErrServiceNotFound, want: http.StatusNotFound},
		{name: "inactive service", body: `{"service_id":2}`, header: key, err: service.ErrServiceInactive, want: http.StatusConflict},
		{
			name: "aborted", body: `{"service_id":2}`, header: key,
			err:  fmt.Errorf("%w: %w", service.ErrTransactionAborted, repository.ErrPurchaseNotFound),
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubService{purchaseErr: tt.err})
			var headers []string
			if tt.header != "" {
				headers = []string{"Idempotency-Key", tt.header}
			}
			rec := ts.do(t, http.MethodPost, "/api/purchases", tt.body, memberPrincipal, headers...)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetPurchaseIncomes_AdminOnly(t *testing.T) {
	svc := &stubService{purchaseIncomes: &service.PurchaseIncomes{
		Total:       decimal.RequireFromString("630"),
		LoggedTotal: decimal.RequireFromString("630"),
	}}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodGet, "/api/purchases/11/incomes", "", memberPrincipal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/purchases/11/incomes", "", adminPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp purchaseIncomesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Reconciled)
	assert.Equal(t, "630.00", resp.Total)

	rec = ts.do(t, http.MethodGet, "/api/purchases/abc/incomes", "", adminPrincipal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRules(t *testing.T) {
	rule := &model.DistributionRule{ID: 4, BasePercentage: decimal.RequireFromString("0.2"), IsActive: true}
	svc := &stubService{rule: rule}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/admin/rules", `{"base_percentage":"0.2","decay_enabled":false,"activate":true}`, memberPrincipal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/rules", `{"base_percentage":"0.2","decay_enabled":false,"activate":true}`, adminPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, svc.gotBase.Equal(decimal.RequireFromString("0.2")))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp["status"])

	rec = ts.do(t, http.MethodPost, "/api/admin/rules", `{"base_percentage":"1.2"}`, adminPrincipal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/rules/4/activate", "", adminPrincipal)
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.ruleErr = fmt.Errorf("%w: rule 4", service.ErrRuleImmutable)
	rec = ts.do(t, http.MethodPut, "/api/admin/rules/4", `{"base_percentage":0.3,"decay_enabled":true}`, adminPrincipal)
	assert.Equal(t, http.StatusConflict, rec.Code)

	svc.ruleErr = repository.ErrRuleNotFound
	rec = ts.do(t, http.MethodPost, "/api/admin/rules/99/activate", "", adminPrincipal)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.ruleErr = service.ErrRuleTransition
	rec = ts.do(t, http.MethodPost, "/api/admin/rules/3/activate", "", adminPrincipal)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminRuleLookups(t *testing.T) {
	rule := &model.DistributionRule{ID: 4, BasePercentage: decimal.RequireFromString("0.2"), IsActive: true}
	svc := &stubService{rule: rule}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodGet, "/api/admin/rules/active", "", memberPrincipal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/rules/active", "", adminPrincipal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp["status"])
	assert.EqualValues(t, 4, resp["id"])

	rec = ts.do(t, http.MethodGet, "/api/admin/rules/4", "", adminPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(4), svc.gotRuleID)

	rec = ts.do(t, http.MethodGet, "/api/admin/rules/abc", "", adminPrincipal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.ruleErr = fmt.Errorf("%w: 9", repository.ErrRuleNotFound)
	rec = ts.do(t, http.MethodGet, "/api/admin/rules/9", "", adminPrincipal)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.rule, svc.ruleErr = nil, distribution.ErrNoActiveRule
	rec = ts.do(t, http.MethodGet, "/api/admin/rules/active", "", adminPrincipal)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no active distribution rule"}`, rec.Body.String())
}

func TestMe(t *testing.T) {
	parent := int64(1)
	pos := model.PositionRight
	svc := &stubService{member: &model.Member{ID: 5, Login: "me", Role: model.RoleMember, ParentID: &parent, Position: &pos}}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodGet, "/api/members/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/members/me", "", memberPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":5,"login":"me","role":"member","parent_id":1,"position":"right"}`, rec.Body.String())
	assert.Equal(t, memberPrincipal.MemberID, svc.gotMemberID)

	svc.member = nil
	rec = ts.do(t, http.MethodGet, "/api/members/me", "", memberPrincipal)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminServicesAndReports(t *testing.T) {
	svc := &stubService{total: decimal.RequireFromString("1260")}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/admin/services", `{"name":"course","price":"99.90","bv":"3200"}`, adminPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, true, created["active"])

	rec = ts.do(t, http.MethodPost, "/api/admin/services", `{"name":"course","price":"-1","bv":"1"}`, adminPrincipal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/services", "", adminPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/admin/reports/total-distributed", "", adminPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":"1260.00"}`, rec.Body.String())
}

func TestHealthzAndMetrics(t *testing.T) {
	svc := &stubService{}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.pingErr = errors.New("connection refused")
	rec = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, &stubService{})
	rec := ts.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/members/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusTeapot, map[string]int{"a": 1})
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte(`"a":1`)))
}
