// Package repository содержит реализацию хранилища дерева и журнала начислений в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	constraintLogin           = "members_login_key"
	constraintSlot            = "members_parent_position_idx"
	constraintSingleActive    = "distribution_rules_single_active_idx"
	constraintPurchaseRequest = "purchases_request_key"
)

// ErrMemberExists возвращается при попытке создать участника с занятым логином.
var (
	ErrMemberExists = errors.New("member already exists")
	// ErrMemberNotFound возвращается, если участник не найден.
	ErrMemberNotFound = errors.New("member not found")
	// ErrSlotTaken возвращается, если место (parent, position) уже занято.
	ErrSlotTaken = errors.New("tree slot already taken")
	// ErrRuleNotFound возвращается, если правило распределения не найдено.
	ErrRuleNotFound = errors.New("distribution rule not found")
	// ErrActiveRuleConflict возвращается, если параллельно активировано другое правило.
	ErrActiveRuleConflict = errors.New("another rule activated concurrently")
	// ErrServiceNotFound возвращается, если услуга не найдена.
	ErrServiceNotFound = errors.New("service not found")
	// ErrPurchaseExists возвращается при повторе ключа идемпотентности покупки.
	ErrPurchaseExists = errors.New("purchase with this request id already exists")
	// ErrPurchaseNotFound возвращается, если покупка не найдена.
	ErrPurchaseNotFound = errors.New("purchase not found")
)

// querier — общее подмножество пула и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, взаимоблокировке,
// гонке активации правил и обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrActiveRuleConflict) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// uniqueViolation сообщает имя нарушенного ограничения уникальности.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithinTx выполняет fn в одной транзакции. Транзакция откатывается при любой ошибке
// и целиком повторяется при конфликте сериализации.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		pgxTx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer pgxTx.Rollback(ctx)

		if err := fn(&pgTx{q: pgxTx}); err != nil {
			return err
		}

		if err := pgxTx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}
