package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const readinessTimeout = 3 * time.Second

// Querier — часть pgxpool.Pool, нужная проверке готовности.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReadinessChecker проверяет, что база доступна, таблица stored_files
// существует и схема не отстаёт от встроенных миграций.
type ReadinessChecker struct {
	db   Querier
	want uint
}

// NewReadinessChecker создаёт проверку. want — ожидаемая версия схемы,
// обычно LatestVersion().
func NewReadinessChecker(db Querier, want uint) *ReadinessChecker {
	return &ReadinessChecker{db: db, want: want}
}

// CheckReady возвращает "ok" или "fail" и пояснение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()

	if err := c.check(ctx); err != nil {
		return "fail", err.Error()
	}
	return "ok", fmt.Sprintf("схема версии %d", c.want)
}

func (c *ReadinessChecker) check(ctx context.Context) error {
	var version int64
	var dirty bool
	err := c.db.QueryRow(ctx, "SELECT version, dirty FROM "+migrationsTable+" LIMIT 1").Scan(&version, &dirty)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errors.New("миграции не применялись")
	case err != nil:
		return fmt.Errorf("PostgreSQL недоступен: %w", err)
	case dirty:
		return fmt.Errorf("схема в состоянии dirty на версии %d", version)
	case version < int64(c.want):
		return fmt.Errorf("схема версии %d, ожидается %d", version, c.want)
	}

	var present bool
	if err := c.db.QueryRow(ctx, "SELECT to_regclass('stored_files') IS NOT NULL").Scan(&present); err != nil {
		return fmt.Errorf("проверка таблицы stored_files: %w", err)
	}
	if !present {
		return errors.New("таблица stored_files отсутствует")
	}
	return nil
}
