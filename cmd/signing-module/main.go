// Точка входа Signing Module — жизненный цикл электронной подписи документов.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт клиент сервиса валидации, очередь фоновых задач, сервисный слой
// и API handlers, запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/docsign/signing-module/internal/api/handlers"
	"github.com/bigkaa/docsign/signing-module/internal/api/middleware"
	"github.com/bigkaa/docsign/signing-module/internal/config"
	"github.com/bigkaa/docsign/signing-module/internal/database"
	"github.com/bigkaa/docsign/signing-module/internal/queue"
	"github.com/bigkaa/docsign/signing-module/internal/repository"
	"github.com/bigkaa/docsign/signing-module/internal/server"
	"github.com/bigkaa/docsign/signing-module/internal/service"
	"github.com/bigkaa/docsign/signing-module/internal/storage/filestore"
	"github.com/bigkaa/docsign/signing-module/internal/validation"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Signing Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("SM_DEPHEALTH_GROUP") == "" {
		logger.Warn("SM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент сервиса валидации (кастомный CA опционален)
	httpClient := &http.Client{Timeout: cfg.ValidationTimeout}
	if cfg.ValidationCACertPath != "" {
		httpClient, err = buildHTTPClientWithCA(cfg.ValidationCACertPath, cfg.ValidationTimeout)
		if err != nil {
			logger.Error("Ошибка загрузки CA-сертификата",
				slog.String("path", cfg.ValidationCACertPath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.ValidationCACertPath))
	}

	// 6. Клиент сервиса валидации
	validationClient := validation.New(validation.Config{
		BaseURL:      cfg.ValidationURL,
		TokenURL:     cfg.OAuthTokenURL,
		Credential:   cfg.ValidationCredential,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
	}, httpClient, logger)
	if !cfg.OAuthConfigured() {
		logger.Warn("OAuth client credentials не заданы, запросы к сервису валидации без авторизации")
	}
	logger.Info("Клиент сервиса валидации создан",
		slog.String("url", cfg.ValidationURL),
		slog.Duration("timeout", cfg.ValidationTimeout),
	)

	// 7. Repositories и файловое хранилище
	store := repository.NewStore(pool)
	txRunner := repository.NewTxRunner(pool)

	files, err := filestore.New(cfg.StorageDir)
	if err != nil {
		logger.Error("Ошибка инициализации файлового хранилища",
			slog.String("dir", cfg.StorageDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 8. Очередь фоновых задач с сохранением отказов в dead_tasks
	taskQueue := queue.New(queue.Options{
		MaxRetries:  cfg.QueueMaxRetries,
		Delay:       cfg.QueueDelay,
		DeadLetters: service.NewDeadTaskSink(store.DeadTasks),
	}, logger)

	// 9. Services
	auditLogger := service.NewAuditLogger(store.Audit, logger)
	statusCache := service.NewStatusCache(cfg.StatusCacheSize, cfg.StatusCacheTTL)
	statusSvc := service.NewStatusService(store, txRunner, statusCache, auditLogger, logger)
	ledger := service.NewVersionLedger(store)
	processingSvc := service.NewProcessingService(
		store, txRunner, files,
		validationClient, taskQueue,
		auditLogger, logger,
	)
	// Окончательные отказы очереди — в лог и аудит
	watchCtx, stopWatch := context.WithCancel(ctx)
	go processingSvc.WatchFailures(watchCtx, taskQueue.Failures())

	signingSvc := service.NewSigningService(
		store, txRunner, files,
		validationClient, ledger, statusSvc,
		auditLogger, taskQueue,
		cfg.BatchConcurrency,
		logger,
	)

	// 10. Readiness checkers (PostgreSQL + сервис валидации)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker, validationClient)

	// 11. API handler (реализует handlers.ServerInterface)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		signingSvc,
		statusSvc,
		ledger,
		processingSvc,
		validationClient,
		logger,
	)

	// 12. JWT middleware (опционально, если задан SM_JWT_JWKS_URL)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.ValidationCACertPath,
			cfg.JWTIssuer,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer jwtAuth.Close()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Info("JWT middleware отключён (SM_JWT_JWKS_URL не задан)")
	}

	// 13. topologymetrics — мониторинг зависимостей (PostgreSQL + сервис валидации)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "signing-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		ValidationURL: cfg.ValidationURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	taskQueue.Stop()
	stopWatch()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Signing Module остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}
