// Пакет config — загрузка и валидация конфигурации Signing Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Signing Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8010-8019)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Сервис валидации подписей ---

	// Базовый URL внешнего сервиса валидации
	ValidationURL string
	// Строка credential, передаваемая в каждом запросе /validation
	ValidationCredential string
	// OAuth client_id (пустой — работа без авторизации)
	OAuthClientID string
	// OAuth client_secret
	OAuthClientSecret string
	// URL endpoint'а получения токена
	OAuthTokenURL string
	// Таймаут запроса к сервису валидации
	ValidationTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединений с сервисом валидации (опционально)
	ValidationCACertPath string

	// --- Хранилище и фоновая обработка ---

	// Директория хранения содержимого документов
	StorageDir string
	// Максимальное число попыток выполнения задачи очереди
	QueueMaxRetries int
	// Пауза между задачами очереди
	QueueDelay time.Duration
	// Максимум одновременных подписаний в пакетной операции
	BatchConcurrency int

	// --- Кэш статусов ---

	StatusCacheSize int
	StatusCacheTTL  time.Duration

	// --- JWT (опционально) ---

	// URL JWKS endpoint. Пустой — JWT middleware отключён.
	JWTJWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:cyclop,funlen // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SM_PORT — порт HTTP-сервера (по умолчанию 8010)
	cfg.Port, err = getEnvInt("SM_PORT", 8010)
	if err != nil {
		return nil, fmt.Errorf("SM_PORT: %w", err)
	}
	if cfg.Port < 8010 || cfg.Port > 8019 {
		return nil, fmt.Errorf("SM_PORT: значение %d вне допустимого диапазона 8010-8019", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("SM_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("SM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SM_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("SM_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("SM_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("SM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("SM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Сервис валидации ---

	// SM_VALIDATION_URL — по умолчанию локальный стенд разработки
	cfg.ValidationURL = strings.TrimRight(getEnvDefault("SM_VALIDATION_URL", "http://localhost:8090"), "/")
	cfg.ValidationCredential = getEnvDefault("SM_VALIDATION_CREDENTIAL", "")

	// SM_OAUTH_CLIENT_ID / SM_OAUTH_CLIENT_SECRET — не обязательны:
	// без них запросы уходят без авторизации
	cfg.OAuthClientID = getEnvDefault("SM_OAUTH_CLIENT_ID", "")
	cfg.OAuthClientSecret = getEnvDefault("SM_OAUTH_CLIENT_SECRET", "")

	// SM_OAUTH_TOKEN_URL — авто-вычисляется из SM_VALIDATION_URL, если не задан
	cfg.OAuthTokenURL = getEnvDefault("SM_OAUTH_TOKEN_URL", cfg.ValidationURL+"/oauth/token")

	cfg.ValidationTimeout, err = getEnvDuration("SM_VALIDATION_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_VALIDATION_TIMEOUT: %w", err)
	}

	cfg.ValidationCACertPath = getEnvDefault("SM_VALIDATION_CA_CERT_PATH", "")

	// --- Хранилище и очередь ---

	cfg.StorageDir = getEnvDefault("SM_STORAGE_DIR", "./data/documents")

	cfg.QueueMaxRetries, err = getEnvInt("SM_QUEUE_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("SM_QUEUE_MAX_RETRIES: %w", err)
	}
	if cfg.QueueMaxRetries < 1 || cfg.QueueMaxRetries > 100 {
		return nil, fmt.Errorf("SM_QUEUE_MAX_RETRIES: значение %d вне допустимого диапазона 1-100", cfg.QueueMaxRetries)
	}

	cfg.QueueDelay, err = getEnvDuration("SM_QUEUE_DELAY", time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_QUEUE_DELAY: %w", err)
	}

	cfg.BatchConcurrency, err = getEnvInt("SM_BATCH_CONCURRENCY", 8)
	if err != nil {
		return nil, fmt.Errorf("SM_BATCH_CONCURRENCY: %w", err)
	}
	if cfg.BatchConcurrency < 1 || cfg.BatchConcurrency > 64 {
		return nil, fmt.Errorf("SM_BATCH_CONCURRENCY: значение %d вне допустимого диапазона 1-64", cfg.BatchConcurrency)
	}

	// --- Кэш статусов ---

	cfg.StatusCacheSize, err = getEnvInt("SM_STATUS_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("SM_STATUS_CACHE_SIZE: %w", err)
	}
	if cfg.StatusCacheSize < 1 {
		return nil, fmt.Errorf("SM_STATUS_CACHE_SIZE: значение %d должно быть положительным", cfg.StatusCacheSize)
	}

	cfg.StatusCacheTTL, err = getEnvDuration("SM_STATUS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_STATUS_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("SM_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("SM_JWT_ISSUER", "")

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("SM_DEPHEALTH_GROUP", "docsign")
	cfg.DephealthCheckInterval, err = getEnvDuration("SM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("SM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// OAuthConfigured сообщает, заданы ли OAuth client credentials.
func (c *Config) OAuthConfigured() bool {
	return c.OAuthClientID != "" && c.OAuthClientSecret != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для лейблов topologymetrics).
// Пароль в URL не включается.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
