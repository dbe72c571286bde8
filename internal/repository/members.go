package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

const memberColumns = `id, login, password_hash, role, sponsor_id, parent_id, position, created_at`

// NewMember описывает участника, которого нужно сохранить.
type NewMember struct {
	Login        string
	PasswordHash []byte
	Role         model.Role
	SponsorID    *int64
	ParentID     *int64
	Position     *model.Position
}

func scanMember(row pgx.Row) (*model.Member, error) {
	var (
		m        model.Member
		role     string
		position *string
	)
	if err := row.Scan(&m.ID, &m.Login, &m.PasswordHash, &role, &m.SponsorID, &m.ParentID, &position, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = model.Role(role)
	if position != nil {
		p := model.Position(*position)
		m.Position = &p
	}
	return &m, nil
}

func collectMembers(rows pgx.Rows) ([]model.Member, error) {
	defer rows.Close()

	var res []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		res = append(res, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateMember сохраняет участника. Если место (parent, position) уже занято,
// возвращается ошибка, оборачивающая ErrSlotTaken.
func (r *PostgresRepository) CreateMember(ctx context.Context, m NewMember) (int64, error) {
	var position *string
	if m.Position != nil {
		p := string(*m.Position)
		position = &p
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO members (login, password_hash, role, sponsor_id, parent_id, position)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		m.Login, m.PasswordHash, string(m.Role), m.SponsorID, m.ParentID, position,
	).Scan(&id)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case constraintLogin:
				return 0, fmt.Errorf("%w: %s", ErrMemberExists, m.Login)
			case constraintSlot:
				return 0, fmt.Errorf("%w: parent %d %s", ErrSlotTaken, *m.ParentID, *m.Position)
			}
		}
		return 0, fmt.Errorf("create member: %w", err)
	}
	return id, nil
}

// GetMemberByLogin возвращает участника по логину.
func (r *PostgresRepository) GetMemberByLogin(ctx context.Context, login string) (*model.Member, error) {
	m, err := scanMember(r.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE login = $1`,
		login,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// GetMember возвращает участника по идентификатору.
func (r *PostgresRepository) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	m, err := scanMember(r.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// MemberExists сообщает, существует ли участник.
func (r *PostgresRepository) MemberExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("member exists: %w", err)
	}
	return exists, nil
}

// Children возвращает прямых потомков узла в порядке создания.
func (r *PostgresRepository) Children(ctx context.Context, parentID int64) ([]model.Member, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+memberColumns+`
		 FROM members
		 WHERE parent_id = $1
		 ORDER BY created_at, id`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("select children: %w", err)
	}
	return collectMembers(rows)
}

// ChildrenOf возвращает потомков сразу нескольких узлов, сгруппированных по родителю.
func (r *PostgresRepository) ChildrenOf(ctx context.Context, parentIDs []int64) ([]model.Member, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+memberColumns+`
		 FROM members
		 WHERE parent_id = ANY($1)
		 ORDER BY parent_id, created_at, id`,
		parentIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select children: %w", err)
	}
	return collectMembers(rows)
}

// AssignPosition проставляет позицию участнику без позиции. Обновление выполняется
// только при position IS NULL, поэтому параллельный backfill не назначит сторону дважды.
func (r *PostgresRepository) AssignPosition(ctx context.Context, memberID int64, pos model.Position) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE members SET position = $2 WHERE id = $1 AND position IS NULL AND parent_id IS NOT NULL`,
		memberID, string(pos),
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == constraintSlot {
			return false, nil
		}
		return false, fmt.Errorf("assign position: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}
