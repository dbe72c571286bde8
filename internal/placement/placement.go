// Package placement подбирает свободное место в бинарном дереве для нового участника.
package placement

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

var (
	// ErrPlacementExhausted возвращается, если обход превысил лимит посещённых узлов.
	// В корректном дереве это невозможно и означает повреждение данных.
	ErrPlacementExhausted = errors.New("placement exhausted")
	// ErrPlacementConflict возвращается, если место заняли параллельно и попытки исчерпаны.
	ErrPlacementConflict = errors.New("placement conflict")
	// ErrSponsorNotFound возвращается, если спонсор не существует.
	ErrSponsorNotFound = errors.New("sponsor not found")
)

const (
	DefaultVisitLimit  = 100000
	DefaultMaxAttempts = 10

	backfillRounds = 3

	// После проигранной гонки участник выбирает случайное место среди первых
	// spread свободных в порядке обхода; spread растёт вчетверо с каждой попыткой.
	maxSpread = 64

	backoffBase = 2 * time.Millisecond
	backoffMax  = 64 * time.Millisecond
)

// Store описывает доступ к узлам дерева, необходимый для поиска места.
type Store interface {
	MemberExists(ctx context.Context, id int64) (bool, error)
	// Children возвращает прямых потомков в порядке создания.
	Children(ctx context.Context, parentID int64) ([]model.Member, error)
	// AssignPosition проставляет позицию узлу без позиции.
	// Возвращает false, если позицию уже кто-то проставил или сторона занята.
	AssignPosition(ctx context.Context, memberID int64, pos model.Position) (bool, error)
}

// InsertFunc сохраняет участника в найденное место.
// Должна вернуть ошибку, оборачивающую ErrPlacementConflict, если место заняли.
type InsertFunc func(ctx context.Context, p model.Placement) error

// Options задаёт ограничения поиска.
type Options struct {
	VisitLimit  int
	MaxAttempts int
	Logger      *zap.Logger
}

// Engine выполняет поиск в ширину от спонсора, слева направо.
type Engine struct {
	store       Store
	visitLimit  int
	maxAttempts int
	logger      *zap.Logger
}

// NewEngine создаёт движок размещения поверх хранилища дерева.
func NewEngine(store Store, opts Options) *Engine {
	if opts.VisitLimit <= 0 {
		opts.VisitLimit = DefaultVisitLimit
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		store:       store,
		visitLimit:  opts.VisitLimit,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
	}
}

// Place находит место под спонсором и сохраняет участника через insert.
// Первая попытка занимает ближайшее к спонсору место, левое раньше правого. Если место
// заняли параллельно, следующая попытка после случайной паузы выбирает одно из нескольких
// ближайших свободных мест, чтобы проигравшие гонку не сходились на одном слоте.
// Всего делается не более MaxAttempts попыток.
func (e *Engine) Place(ctx context.Context, sponsorID int64, insert InsertFunc) (model.Placement, error) {
	if err := e.checkSponsor(ctx, sponsorID); err != nil {
		return model.Placement{}, err
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		p, err := e.tryPlace(ctx, sponsorID, attempt, insert)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPlacementConflict) {
			return model.Placement{}, err
		}

		e.logger.Debug("placement slot taken concurrently, retrying",
			zap.Int64("sponsorID", sponsorID),
			zap.Int64("parentID", p.ParentID),
			zap.String("position", string(p.Position)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < e.maxAttempts {
			if err := backoff(ctx, attempt); err != nil {
				return model.Placement{}, err
			}
		}
	}

	return model.Placement{}, fmt.Errorf("place under sponsor %d after %d attempts: %w",
		sponsorID, e.maxAttempts, ErrPlacementConflict)
}

// tryPlace выбирает место и вставляет участника. При конфликте возвращает выбранное место
// вместе с ошибкой для журнала.
func (e *Engine) tryPlace(ctx context.Context, sponsorID int64, attempt int, insert InsertFunc) (model.Placement, error) {
	candidates, err := e.openSlots(ctx, sponsorID, spreadFor(attempt))
	if err != nil {
		return model.Placement{}, err
	}

	p := candidates[0]
	if len(candidates) > 1 {
		p = candidates[rand.IntN(len(candidates))]
	}
	return p, insert(ctx, p)
}

// FindPlacement возвращает ближайшее к спонсору свободное место, левое раньше правого.
func (e *Engine) FindPlacement(ctx context.Context, sponsorID int64) (model.Placement, error) {
	if err := e.checkSponsor(ctx, sponsorID); err != nil {
		return model.Placement{}, err
	}

	candidates, err := e.openSlots(ctx, sponsorID, 1)
	if err != nil {
		return model.Placement{}, err
	}
	return candidates[0], nil
}

func (e *Engine) checkSponsor(ctx context.Context, sponsorID int64) error {
	ok, err := e.store.MemberExists(ctx, sponsorID)
	if err != nil {
		return fmt.Errorf("check sponsor: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrSponsorNotFound, sponsorID)
	}
	return nil
}

// openSlots обходит поддерево спонсора в ширину и возвращает до limit свободных мест
// в порядке обхода. Результат всегда непуст, если ошибки нет.
func (e *Engine) openSlots(ctx context.Context, sponsorID int64, limit int) ([]model.Placement, error) {
	queue := []int64{sponsorID}
	visited := make(map[int64]struct{})
	var found []model.Placement

	for len(queue) > 0 && len(found) < limit {
		id := queue[0]
		queue = queue[1:]

		if _, seen := visited[id]; seen {
			continue
		}
		if len(visited) >= e.visitLimit {
			if len(found) > 0 {
				return found, nil
			}
			e.logger.Error("placement visit limit exceeded, tree is likely corrupted",
				zap.Int64("sponsorID", sponsorID),
				zap.Int("visited", len(visited)),
			)
			return nil, fmt.Errorf("%w: visited %d nodes under sponsor %d",
				ErrPlacementExhausted, len(visited), sponsorID)
		}
		visited[id] = struct{}{}

		s, err := e.resolveSlots(ctx, id)
		if err != nil {
			return nil, err
		}

		if s.left == nil {
			found = append(found, model.Placement{ParentID: id, Position: model.PositionLeft})
		} else {
			queue = append(queue, s.left.ID)
		}
		if s.right == nil {
			found = append(found, model.Placement{ParentID: id, Position: model.PositionRight})
		} else {
			queue = append(queue, s.right.ID)
		}
		for _, c := range s.rest {
			queue = append(queue, c.ID)
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("%w: no open slot reachable from sponsor %d",
			ErrPlacementExhausted, sponsorID)
	}
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func spreadFor(attempt int) int {
	spread := 1
	for i := 1; i < attempt && spread < maxSpread; i++ {
		spread *= 4
	}
	return min(spread, maxSpread)
}

// backoff ждёт случайную паузу, верхняя граница которой удваивается с каждой попыткой.
func backoff(ctx context.Context, attempt int) error {
	ceiling := backoffBase << min(attempt-1, 10)
	if ceiling > backoffMax {
		ceiling = backoffMax
	}

	timer := time.NewTimer(rand.N(ceiling) + time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// slots раскладывает потомков узла по сторонам.
type slots struct {
	left  *model.Member
	right *model.Member
	// unpositioned — потомки без позиции в порядке создания.
	unpositioned []model.Member
	// rest обходится после левого и правого потомков.
	rest []model.Member
}

func (s *slots) at(pos model.Position) *model.Member {
	if pos == model.PositionLeft {
		return s.left
	}
	return s.right
}

func (s *slots) set(pos model.Position, m *model.Member) {
	if pos == model.PositionLeft {
		s.left = m
		return
	}
	s.right = m
}

func partition(children []model.Member) slots {
	var s slots
	for i := range children {
		c := children[i]
		switch {
		case c.Position == nil:
			s.unpositioned = append(s.unpositioned, c)
		case s.at(*c.Position) == nil:
			s.set(*c.Position, &c)
		default:
			s.rest = append(s.rest, c)
		}
	}
	return s
}

// resolveSlots читает потомков узла и проставляет позиции старым узлам без позиции.
// Условное обновление гарантирует, что параллельный backfill не назначит сторону дважды.
func (e *Engine) resolveSlots(ctx context.Context, parentID int64) (slots, error) {
	for round := 0; round < backfillRounds; round++ {
		children, err := e.store.Children(ctx, parentID)
		if err != nil {
			return slots{}, fmt.Errorf("load children of member %d: %w", parentID, err)
		}

		s := partition(children)
		raced := false

		for _, pos := range []model.Position{model.PositionLeft, model.PositionRight} {
			if s.at(pos) != nil || len(s.unpositioned) == 0 {
				continue
			}

			candidate := s.unpositioned[0]
			assigned, err := e.store.AssignPosition(ctx, candidate.ID, pos)
			if err != nil {
				return slots{}, fmt.Errorf("backfill %s position of member %d: %w", pos, candidate.ID, err)
			}
			if !assigned {
				raced = true
				break
			}

			candidate.Position = &pos
			s.set(pos, &candidate)
			s.unpositioned = s.unpositioned[1:]

			e.logger.Info("legacy member position backfilled",
				zap.Int64("memberID", candidate.ID),
				zap.Int64("parentID", parentID),
				zap.String("position", string(pos)),
			)
		}

		if !raced {
			s.rest = append(s.unpositioned, s.rest...)
			return s, nil
		}
	}

	return slots{}, fmt.Errorf("backfill under member %d: %w", parentID, ErrPlacementConflict)
}
