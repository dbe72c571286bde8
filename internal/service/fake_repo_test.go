package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-bv-system/internal/model"
	"github.com/mmeshcher/referral-bv-system/internal/repository"
)

// memState хранит снимок хранилища. Транзакция работает с копией и публикует её при успехе.
type memState struct {
	nextID    int64
	members   map[int64]model.Member
	rules     map[int64]model.DistributionRule
	services  map[int64]model.Service
	purchases map[int64]model.Purchase
	incomes   []model.Income
	logs      []model.IncomeLog
}

func newMemState() *memState {
	return &memState{
		members:   make(map[int64]model.Member),
		rules:     make(map[int64]model.DistributionRule),
		services:  make(map[int64]model.Service),
		purchases: make(map[int64]model.Purchase),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.nextID = s.nextID
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	c.incomes = append([]model.Income(nil), s.incomes...)
	c.logs = append([]model.IncomeLog(nil), s.logs...)
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memState) sortedMembers() []model.Member {
	res := make([]model.Member, 0, len(s.members))
	for _, m := range s.members {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

type fakeRepo struct {
	mu    sync.Mutex
	state *memState

	// failIncomeAt > 0 роняет n-ю запись Income внутри транзакции.
	failIncomeAt int
	// racePurchase прячет существующую покупку от первого поиска по ключу,
	// как если бы параллельный запрос зафиксировал её между поиском и вставкой.
	racePurchase bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{state: newMemState()}
}

func (r *fakeRepo) Close() error                   { return nil }
func (r *fakeRepo) Ping(ctx context.Context) error { return nil }

func (r *fakeRepo) CreateMember(ctx context.Context, nm repository.NewMember) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.state.members {
		if m.Login == nm.Login {
			return 0, fmt.Errorf("%w: %s", repository.ErrMemberExists, nm.Login)
		}
		if nm.ParentID != nil && m.ParentID != nil && *m.ParentID == *nm.ParentID &&
			nm.Position != nil && m.Position != nil && *m.Position == *nm.Position {
			return 0, fmt.Errorf("%w: %d/%s", repository.ErrSlotTaken, *nm.ParentID, *nm.Position)
		}
	}

	id := r.state.id()
	r.state.members[id] = model.Member{
		ID:           id,
		Login:        nm.Login,
		PasswordHash: nm.PasswordHash,
		Role:         nm.Role,
		SponsorID:    nm.SponsorID,
		ParentID:     nm.ParentID,
		Position:     nm.Position,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

// addLegacy вставляет участника в обход размещения, как в данных старой схемы.
func (r *fakeRepo) addLegacy(login string, parentID int64, pos *model.Position) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.state.id()
	r.state.members[id] = model.Member{ID: id, Login: login, Role: model.RoleMember, ParentID: &parentID, Position: pos}
	return id
}

func (r *fakeRepo) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.state.members[id]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	return &m, nil
}

func (r *fakeRepo) GetMemberByLogin(ctx context.Context, login string) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.state.members {
		if m.Login == login {
			return &m, nil
		}
	}
	return nil, repository.ErrMemberNotFound
}

func (r *fakeRepo) MemberExists(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.state.members[id]
	return ok, nil
}

func (r *fakeRepo) Children(ctx context.Context, parentID int64) ([]model.Member, error) {
	return r.ChildrenOf(ctx, []int64{parentID})
}

func (r *fakeRepo) ChildrenOf(ctx context.Context, parentIDs []int64) ([]model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[int64]bool, len(parentIDs))
	for _, id := range parentIDs {
		wanted[id] = true
	}

	var res []model.Member
	for _, m := range r.state.sortedMembers() {
		if m.ParentID != nil && wanted[*m.ParentID] {
			res = append(res, m)
		}
	}
	return res, nil
}

func (r *fakeRepo) AssignPosition(ctx context.Context, memberID int64, pos model.Position) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.state.members[memberID]
	if !ok || m.Position != nil || m.ParentID == nil {
		return false, nil
	}
	for _, o := range r.state.members {
		if o.ParentID != nil && *o.ParentID == *m.ParentID && o.Position != nil && *o.Position == pos {
			return false, nil
		}
	}
	m.Position = &pos
	r.state.members[memberID] = m
	return true, nil
}

func (r *fakeRepo) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &fakeTx{repo: r, st: r.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	r.state = tx.st
	return nil
}

func (r *fakeRepo) ListRules(ctx context.Context) ([]model.DistributionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]model.DistributionRule, 0, len(r.state.rules))
	for _, rule := range r.state.rules {
		res = append(res, rule)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *fakeRepo) CreateService(ctx context.Context, s *model.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.ID = r.state.id()
	s.CreatedAt = time.Now()
	r.state.services[s.ID] = *s
	return nil
}

func (r *fakeRepo) ListServices(ctx context.Context) ([]model.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]model.Service, 0, len(r.state.services))
	for _, s := range r.state.services {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *fakeRepo) ListIncomesByMember(ctx context.Context, memberID int64) ([]model.Income, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Income
	for i := len(r.state.incomes) - 1; i >= 0; i-- {
		if r.state.incomes[i].ToMember == memberID {
			res = append(res, r.state.incomes[i])
		}
	}
	return res, nil
}

func (r *fakeRepo) ListIncomesByPurchase(ctx context.Context, purchaseID int64) ([]model.Income, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Income
	for _, inc := range r.state.incomes {
		if inc.PurchaseID == purchaseID {
			res = append(res, inc)
		}
	}
	return res, nil
}

func (r *fakeRepo) IncomeSummary(ctx context.Context, memberID int64) (model.IncomeSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum := model.IncomeSummary{Total: decimal.Zero}
	for _, inc := range r.state.incomes {
		if inc.ToMember == memberID {
			sum.Total = sum.Total.Add(inc.Amount)
			sum.Credits++
		}
	}
	return sum, nil
}

func (r *fakeRepo) LoggedTotalByPurchase(ctx context.Context, purchaseID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := decimal.Zero
	for _, l := range r.state.logs {
		if l.PurchaseID == purchaseID {
			total = total.Add(l.IncomeAmount)
		}
	}
	return total, nil
}

func (r *fakeRepo) TotalDistributed(ctx context.Context) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := decimal.Zero
	for _, l := range r.state.logs {
		total = total.Add(l.IncomeAmount)
	}
	return total, nil
}

func (r *fakeRepo) GetRule(ctx context.Context, id int64) (*model.DistributionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.state.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrRuleNotFound, id)
	}
	return &rule, nil
}

func (r *fakeRepo) ActiveRule(ctx context.Context) (*model.DistributionRule, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rule := range r.state.rules {
		if rule.IsActive {
			return &rule, true, nil
		}
	}
	return nil, false, nil
}

// seedRule добавляет правило в обход сервиса.
func (r *fakeRepo) seedRule(base string, decay, active bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.state.id()
	r.state.rules[id] = model.DistributionRule{
		ID:             id,
		BasePercentage: decimal.RequireFromString(base),
		DecayEnabled:   decay,
		IsActive:       active,
		CreatedAt:      time.Now(),
	}
	return id
}

func (r *fakeRepo) counts() (purchases, incomes, logs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.purchases), len(r.state.incomes), len(r.state.logs)
}

func (r *fakeRepo) activeRules() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, rule := range r.state.rules {
		if rule.IsActive {
			ids = append(ids, id)
		}
	}
	return ids
}

type fakeTx struct {
	repo    *fakeRepo
	st      *memState
	incomeN int
}

func (t *fakeTx) ActiveRule(ctx context.Context) (model.DistributionRule, bool, error) {
	for _, rule := range t.st.rules {
		if rule.IsActive {
			return rule, true, nil
		}
	}
	return model.DistributionRule{}, false, nil
}

func (t *fakeTx) ParentOf(ctx context.Context, memberID int64) (*int64, error) {
	m, ok := t.st.members[memberID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrMemberNotFound, memberID)
	}
	return m.ParentID, nil
}

func (t *fakeTx) InsertIncome(ctx context.Context, income *model.Income) error {
	t.incomeN++
	if t.repo.failIncomeAt > 0 && t.incomeN == t.repo.failIncomeAt {
		return errors.New("disk full")
	}
	for _, inc := range t.st.incomes {
		if inc.PurchaseID == income.PurchaseID && inc.ToMember == income.ToMember && inc.Level == income.Level {
			return errors.New("duplicate income")
		}
	}
	income.ID = t.st.id()
	income.CreatedAt = time.Now()
	t.st.incomes = append(t.st.incomes, *income)
	return nil
}

func (t *fakeTx) InsertIncomeLog(ctx context.Context, entry *model.IncomeLog) error {
	entry.ID = t.st.id()
	entry.CreatedAt = time.Now()
	t.st.logs = append(t.st.logs, *entry)
	return nil
}

func (t *fakeTx) GetService(ctx context.Context, id int64) (*model.Service, error) {
	s, ok := t.st.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrServiceNotFound, id)
	}
	return &s, nil
}

func (t *fakeTx) FindPurchaseByRequest(ctx context.Context, memberID int64, requestID uuid.UUID) (*model.Purchase, error) {
	if t.repo.racePurchase {
		t.repo.racePurchase = false
		return nil, repository.ErrPurchaseNotFound
	}
	for _, p := range t.st.purchases {
		if p.MemberID == memberID && p.RequestID == requestID {
			return &p, nil
		}
	}
	return nil, repository.ErrPurchaseNotFound
}

func (t *fakeTx) InsertPendingPurchase(ctx context.Context, p *model.Purchase) error {
	if _, ok := t.st.members[p.MemberID]; !ok {
		return fmt.Errorf("%w: %d", repository.ErrMemberNotFound, p.MemberID)
	}
	for _, existing := range t.st.purchases {
		if existing.MemberID == p.MemberID && existing.RequestID == p.RequestID {
			return fmt.Errorf("%w: %s", repository.ErrPurchaseExists, p.RequestID)
		}
	}
	p.ID = t.st.id()
	p.Status = model.PurchaseStatusPending
	p.CreatedAt = time.Now()
	t.st.purchases[p.ID] = *p
	return nil
}

func (t *fakeTx) FinalizePurchase(ctx context.Context, p *model.Purchase) error {
	stored, ok := t.st.purchases[p.ID]
	if !ok || stored.Status != model.PurchaseStatusPending {
		return repository.ErrPurchaseNotFound
	}
	now := time.Now()
	p.Status = model.PurchaseStatusCompleted
	p.CompletedAt = &now
	t.st.purchases[p.ID] = *p
	return nil
}

func (t *fakeTx) InsertRule(ctx context.Context, rule *model.DistributionRule) error {
	rule.ID = t.st.id()
	rule.IsActive = false
	rule.CreatedAt = time.Now()
	t.st.rules[rule.ID] = *rule
	return nil
}

func (t *fakeTx) LockRule(ctx context.Context, id int64) (*model.DistributionRule, error) {
	rule, ok := t.st.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrRuleNotFound, id)
	}
	return &rule, nil
}

func (t *fakeTx) DeactivateRules(ctx context.Context) error {
	now := time.Now()
	for id, rule := range t.st.rules {
		if rule.IsActive {
			rule.IsActive = false
			rule.SupersededAt = &now
			t.st.rules[id] = rule
		}
	}
	return nil
}

func (t *fakeTx) MarkRuleActive(ctx context.Context, id int64) (*model.DistributionRule, error) {
	rule, ok := t.st.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrRuleNotFound, id)
	}
	for otherID, other := range t.st.rules {
		if otherID != id && other.IsActive {
			return nil, repository.ErrActiveRuleConflict
		}
	}
	now := time.Now()
	rule.IsActive = true
	rule.ActivatedAt = &now
	t.st.rules[id] = rule
	return &rule, nil
}

func (t *fakeTx) RuleReferenced(ctx context.Context, id int64) (bool, error) {
	for _, p := range t.st.purchases {
		if p.RuleID != nil && *p.RuleID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) UpdateRule(ctx context.Context, rule *model.DistributionRule) error {
	if _, ok := t.st.rules[rule.ID]; !ok {
		return fmt.Errorf("%w: %d", repository.ErrRuleNotFound, rule.ID)
	}
	t.st.rules[rule.ID] = *rule
	return nil
}
