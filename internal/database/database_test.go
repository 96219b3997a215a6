package database

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/docsign/signing-module/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
// Возвращает конфиг и функцию для очистки.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("docsign_test"),
		postgres.WithUsername("docsign"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Создаём конфиг с минимальными значениями
	t.Setenv("SM_DB_HOST", host)
	t.Setenv("SM_DB_PORT", port.Port())
	t.Setenv("SM_DB_NAME", "docsign_test")
	t.Setenv("SM_DB_USER", "docsign")
	t.Setenv("SM_DB_PASSWORD", "test-password")
	t.Setenv("SM_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	return cfg
}

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	// Проверяем ping
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("pool.Ping() вернул ошибку: %v", err)
	}
}

// TestMigrate проверяет применение миграций.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}

	// Повторное применение — должно быть без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	// Проверяем, что таблицы созданы
	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	tables := []string{
		"documents",
		"document_versions",
		"signatures",
		"signature_flows",
		"audit_log",
		"dead_tasks",
	}

	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	// Уникальность номера версии в пределах документа
	var constraint string
	err = pool.QueryRow(ctx,
		`SELECT conname FROM pg_constraint WHERE conname = 'uq_document_versions_number'`,
	).Scan(&constraint)
	if err != nil {
		t.Fatalf("Ограничение uq_document_versions_number не найдено: %v", err)
	}
}

// TestConnect_PoolSize проверяет, что пул вмещает пакетное подписание.
func TestConnect_PoolSize(t *testing.T) {
	cfg := setupTestDB(t)
	cfg.BatchConcurrency = 32
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	if got := pool.Config().MaxConns; got < int32(cfg.BatchConcurrency+minPoolConns) {
		t.Errorf("MaxConns = %d, ожидалось не меньше %d", got, cfg.BatchConcurrency+minPoolConns)
	}
}

// TestReadinessChecker проверяет ReadinessChecker.
func TestReadinessChecker(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	checker := NewReadinessChecker(pool)

	status, msg := checker.CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали status = %q",
			status, msg, "ok")
	}
}

func unitConfig() *config.Config {
	return &config.Config{
		DBHost:           "db.internal",
		DBPort:           5433,
		DBName:           "docsign",
		DBUser:           "firma",
		DBPassword:       "p@ss:w/rd?",
		DBSSLMode:        "require",
		BatchConcurrency: 16,
	}
}

// TestPoolConfig проверяет размер пула и application_name без БД.
func TestPoolConfig(t *testing.T) {
	cfg := unitConfig()

	poolCfg, err := poolConfig(cfg)
	if err != nil {
		t.Fatalf("poolConfig() вернул ошибку: %v", err)
	}
	if poolCfg.MaxConns < int32(cfg.BatchConcurrency+minPoolConns) {
		t.Errorf("MaxConns = %d, ожидалось не меньше %d", poolCfg.MaxConns, cfg.BatchConcurrency+minPoolConns)
	}
	if got := poolCfg.ConnConfig.RuntimeParams["application_name"]; got != applicationName {
		t.Errorf("application_name = %q, ожидался %q", got, applicationName)
	}
	if poolCfg.ConnConfig.Host != "db.internal" || poolCfg.ConnConfig.Port != 5433 {
		t.Errorf("адрес = %s:%d", poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Port)
	}
}

// TestMigrationURL проверяет экранирование учётных данных.
func TestMigrationURL(t *testing.T) {
	raw := migrationURL(unitConfig())

	if !strings.HasPrefix(raw, "pgx5://") {
		t.Fatalf("URL = %q, ожидалась схема pgx5", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	if pass, _ := u.User.Password(); pass != "p@ss:w/rd?" || u.User.Username() != "firma" {
		t.Errorf("учётные данные = %q/%q", u.User.Username(), pass)
	}
	if u.Host != "db.internal:5433" || u.Path != "/docsign" {
		t.Errorf("host = %q, path = %q", u.Host, u.Path)
	}
	if u.Query().Get("sslmode") != "require" {
		t.Errorf("sslmode = %q, ожидался require", u.Query().Get("sslmode"))
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// TestReadinessChecker_Statuses проверяет статусы без БД.
func TestReadinessChecker_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		ping       pingerFunc
		wantStatus string
		wantMsg    string
	}{
		{
			name:       "ok",
			ping:       func(context.Context) error { return nil },
			wantStatus: "ok",
			wantMsg:    "хранилище подписей доступно",
		},
		{
			name:       "ошибка соединения",
			ping:       func(context.Context) error { return errors.New("connection refused") },
			wantStatus: "fail",
			wantMsg:    "connection refused",
		},
		{
			name: "таймаут",
			ping: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			wantStatus: "fail",
			wantMsg:    "не ответил",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewReadinessChecker(tt.ping)
			checker.timeout = 10 * time.Millisecond

			status, msg := checker.CheckReady()
			if status != tt.wantStatus || !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("CheckReady() = (%q, %q), ожидалось (%q, ...%q...)", status, msg, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}
