// Пакет database — пул подключений signing-module к PostgreSQL,
// миграции схемы подписей (golang-migrate) и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/docsign/signing-module/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// minPoolConns — соединения сверх параллелизма пакетного подписания:
	// HTTP-запросы, очередь задач и проверки готовности.
	minPoolConns = 4
	// applicationName видно в pg_stat_activity.
	applicationName = "signing-module"
	// readinessTimeout — таймаут ping для /health/ready.
	readinessTimeout = 3 * time.Second
)

// ErrDirtySchema — предыдущая миграция прервана, схема требует ручного вмешательства.
var ErrDirtySchema = errors.New("схема БД в состоянии dirty")

// Connect создаёт пул подключений и проверяет доступность PostgreSQL.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL %s:%d недоступен: %w", cfg.DBHost, cfg.DBPort, err)
	}

	logger.Info("Пул подключений к PostgreSQL создан",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
		slog.Int("batch_concurrency", cfg.BatchConcurrency),
	)
	return pool, nil
}

// poolConfig разбирает DSN и расширяет пул так, чтобы каждая горутина
// пакетного подписания могла держать транзакцию с блокировкой документа.
func poolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	if need := int32(cfg.BatchConcurrency + minPoolConns); poolCfg.MaxConns < need { //nolint:gosec // диапазон проверен в config
		poolCfg.MaxConns = need
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	return poolCfg, nil
}

// migrationURL формирует URL golang-migrate (pgx5://) с экранированными учётными данными.
func migrationURL(cfg *config.Config) string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": {cfg.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// Migrate применяет встроенные миграции схемы документов, версий, подписей,
// аудита и dead_tasks. Схема в состоянии dirty не трогается: ErrDirtySchema.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(cfg))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	case dirty:
		return fmt.Errorf("%w: версия %d", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("Схема БД актуальна", slog.Uint64("version", uint64(from)))
			return nil
		}
		return fmt.Errorf("ошибка применения миграций с версии %d: %w", from, err)
	}

	to, _, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("from_version", uint64(from)),
		slog.Uint64("to_version", uint64(to)),
	)
	return nil
}

// Pinger — проверка соединения; *pgxpool.Pool реализует его.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecker — проверка PostgreSQL для /health/ready.
// Реализует handlers.ReadinessChecker.
type ReadinessChecker struct {
	db      Pinger
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(db Pinger) *ReadinessChecker {
	return &ReadinessChecker{db: db, timeout: readinessTimeout}
}

// CheckReady возвращает "ok", если ping укладывается в таймаут, иначе "fail".
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "fail", fmt.Sprintf("PostgreSQL не ответил за %s", c.timeout)
		}
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	return "ok", "хранилище подписей доступно"
}
