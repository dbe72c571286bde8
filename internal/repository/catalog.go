package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

const serviceColumns = `id, name, price, bv, active, created_at`

func scanService(row pgx.Row) (*model.Service, error) {
	var (
		s     model.Service
		price int64
		bv    int64
	)
	if err := row.Scan(&s.ID, &s.Name, &price, &bv, &s.Active, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Price = fromCents(price)
	s.BV = fromCents(bv)
	return &s, nil
}

// CreateService добавляет услугу в каталог.
func (r *PostgresRepository) CreateService(ctx context.Context, s *model.Service) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO services (name, price, bv, active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		s.Name, toCents(s.Price), toCents(s.BV), s.Active,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

// ListServices возвращает каталог услуг.
func (r *PostgresRepository) ListServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+serviceColumns+` FROM services ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	var res []model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		res = append(res, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
