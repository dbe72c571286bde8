package service

import (
	"context"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

const (
	// DefaultTreeDepth — глубина проекции, если она не задана.
	DefaultTreeDepth = 3
	// MaxTreeDepth ограничивает глубину проекции.
	MaxTreeDepth = 10
)

// ClampDepth приводит запрошенную глубину к [1, MaxTreeDepth]; ноль и отрицательные
// значения заменяются на DefaultTreeDepth.
func ClampDepth(depth int) int {
	switch {
	case depth <= 0:
		return DefaultTreeDepth
	case depth > MaxTreeDepth:
		return MaxTreeDepth
	default:
		return depth
	}
}

// GetTree строит проекцию поддерева участника на depth уровней вниз.
// Дети без позиции и лишние дети попадают в Legacy своего родителя.
func (s *Service) GetTree(ctx context.Context, rootID int64, depth int) (*model.TreeNode, error) {
	depth = ClampDepth(depth)

	root, err := s.repo.GetMember(ctx, rootID)
	if err != nil {
		return nil, err
	}

	rootNode := &model.TreeNode{ID: root.ID, Login: root.Login, Position: root.Position}
	seen := map[int64]bool{root.ID: true}
	level := map[int64]*model.TreeNode{root.ID: rootNode}
	ids := []int64{root.ID}

	for d := 0; d < depth && len(ids) > 0; d++ {
		children, err := s.repo.ChildrenOf(ctx, ids)
		if err != nil {
			return nil, err
		}

		next := make(map[int64]*model.TreeNode, len(children))
		nextIDs := make([]int64, 0, len(children))
		for _, c := range children {
			if c.ParentID == nil || seen[c.ID] {
				continue
			}
			parent, ok := level[*c.ParentID]
			if !ok {
				continue
			}
			seen[c.ID] = true

			node := &model.TreeNode{ID: c.ID, Login: c.Login, Position: c.Position}
			attach(parent, node)

			next[c.ID] = node
			nextIDs = append(nextIDs, c.ID)
		}

		level, ids = next, nextIDs
	}

	return rootNode, nil
}

func attach(parent, child *model.TreeNode) {
	switch {
	case child.Position == nil:
	case *child.Position == model.PositionLeft && parent.Left == nil:
		parent.Left = child
		return
	case *child.Position == model.PositionRight && parent.Right == nil:
		parent.Right = child
		return
	}
	parent.Legacy = append(parent.Legacy, child)
}
