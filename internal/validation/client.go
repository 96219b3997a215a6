// client.go — HTTP-клиент к сервису валидации электронных подписей.
// Получает OAuth-токен по client_id/client_secret и кэширует его до
// истечения claim exp (за 60 секунд до срока). Без client credentials
// работает без авторизации.
// Операции: ValidateSignature, ServiceInfo, CleanupTemp.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// maxResponseSize — максимальный размер читаемого ответа сервиса.
const maxResponseSize = 10 << 20

// Config — параметры подключения к сервису валидации.
type Config struct {
	// BaseURL — базовый URL сервиса (без trailing slash)
	BaseURL string
	// TokenURL — URL получения OAuth-токена
	TokenURL string
	// Credential — строка credential, передаваемая в запросе /validation
	Credential string
	// ClientID, ClientSecret — OAuth client credentials (пустые — без авторизации)
	ClientID     string
	ClientSecret string
}

// Client — HTTP-клиент к сервису валидации.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	tokens       tokenCache
	degradedOnce sync.Once
	now          func() time.Time
}

// New создаёт клиент к сервису валидации.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию и таймаут).
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenURL == "" {
		cfg.TokenURL = cfg.BaseURL + "/oauth/token"
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "validation_client")),
		now:        time.Now,
	}
}

// --- Аутентификация ---

// authConfigured сообщает, заданы ли client credentials.
func (c *Client) authConfigured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// AccessToken возвращает актуальный bearer-токен, обновляя его при необходимости.
// Без client credentials возвращает пустую строку: запросы идут без авторизации.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if !c.authConfigured() {
		c.degradedOnce.Do(func() {
			c.logger.Warn("OAuth client credentials не заданы, запросы к сервису валидации без авторизации")
		})
		return "", nil
	}

	if token, ok := c.tokens.get(c.now()); ok {
		return token, nil
	}

	token, refreshed, err := c.tokens.refresh(c.now, func() (string, error) {
		return c.requestToken(ctx)
	})
	if err != nil {
		tokenRefreshTotal.WithLabelValues("error").Inc()
		return "", err
	}
	if refreshed {
		tokenRefreshTotal.WithLabelValues("ok").Inc()
		c.logger.Debug("Токен сервиса валидации обновлён",
			slog.Time("expires_at", c.tokens.expiresAt()),
		)
	}

	return token, nil
}

// requestToken получает токен: POST формы client_id/client_secret,
// ответ — токен строкой.
func (c *Client) requestToken(ctx context.Context) (string, error) {
	data := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: создание запроса токена: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError("запрос токена", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: чтение токена: %v", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: сервис вернул статус %d при запросе токена: %s",
			ErrTransport, resp.StatusCode, string(body))
	}

	token := normalizeToken(string(body))
	if token == "" {
		return "", fmt.Errorf("%w: пустой токен в ответе", ErrTransport)
	}

	return token, nil
}

// --- HTTP helpers ---

// doAuthorized выполняет запрос к сервису с bearer-токеном (если он есть).
// При ответе 401 токен сбрасывается, следующий запрос получит новый.
func (c *Client) doAuthorized(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: создание запроса: %v", ErrTransport, err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(method+" "+path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		c.tokens.invalidate(token)
	}

	return resp, nil
}

// decodeResponse декодирует JSON ответ в target.
// Ответ с ошибкой превращается в *RemoteError, если сервис прислал текст ошибки.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: чтение ответа: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload errorPayload
		if json.Unmarshal(body, &payload) == nil {
			if msg := payload.message(); msg != "" {
				return &RemoteError{StatusCode: resp.StatusCode, Message: msg}
			}
		}
		return fmt.Errorf("%w: сервис вернул статус %d: %s", ErrTransport, resp.StatusCode, string(body))
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("%w: декодирование ответа: %v", ErrTransport, err)
		}
	}

	return nil
}

func (p errorPayload) message() string {
	if p.ErrorMessage != "" {
		return p.ErrorMessage
	}
	return p.Message
}

// classifyTransportError отделяет недоступность сервиса от прочих ошибок.
func classifyTransportError(op string, err error) error {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if (errors.As(err, &opErr) && opErr.Op == "dial") || errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}

// observe фиксирует длительность запроса в метриках.
func observe(operation string, started time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrServiceUnavailable):
		outcome = "unavailable"
	case errors.Is(err, ErrNoSignaturesFound):
		outcome = "no_signatures"
	default:
		var remote *RemoteError
		if errors.As(err, &remote) {
			outcome = "remote_error"
		} else {
			outcome = "error"
		}
	}
	requestDuration.WithLabelValues(operation, outcome).Observe(time.Since(started).Seconds())
}

// --- Validation API ---

// ValidateSignature отправляет подписанный документ на проверку.
// original — исходный документ для отсоединённых подписей (nil — присоединённая подпись).
//
// Ошибки: *RemoteError (текст ошибки сервиса без изменений), ErrServiceUnavailable,
// ErrTransport, ErrNoSignaturesFound (успешный ответ без подписей).
func (c *Client) ValidateSignature(ctx context.Context, content []byte, extension string, original []byte) (res *Result, err error) {
	started := time.Now()
	defer func() { observe("validate", started, err) }()

	extension = strings.TrimPrefix(strings.ToLower(extension), ".")

	body, contentType, err := buildValidationForm(c.cfg.Credential, content, extension, original)
	if err != nil {
		return nil, fmt.Errorf("%w: формирование запроса: %v", ErrTransport, err)
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/validation", contentType, body)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}

	if result.ErrorMessage != "" {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: result.ErrorMessage}
	}
	if len(result.ListSignatures) == 0 {
		return nil, ErrNoSignaturesFound
	}

	c.logger.Debug("Документ проверен сервисом валидации",
		slog.String("result", result.Result),
		slog.Int("signatures", result.Signatures),
		slog.Int("valid_signatures", result.ValidSignatures),
	)

	return &result, nil
}

// buildValidationForm формирует multipart-тело запроса /validation:
// param (JSON), credential, signed и необязательный original.
func buildValidationForm(credential string, content []byte, extension string, original []byte) ([]byte, string, error) {
	param, err := json.Marshal(validationParam{Extension: extension, Detached: original != nil})
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("param", string(param)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("credential", credential); err != nil {
		return nil, "", err
	}

	filename := "document"
	if extension != "" {
		filename += "." + extension
	}
	if err := writeFilePart(w, "signed", filename, content); err != nil {
		return nil, "", err
	}
	if original != nil {
		if err := writeFilePart(w, "original", "original", original); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, field, filename string, data []byte) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// ServiceInfo возвращает метаданные сервиса валидации.
func (c *Client) ServiceInfo(ctx context.Context) (info *ServiceInfo, err error) {
	started := time.Now()
	defer func() { observe("info", started, err) }()

	resp, err := c.doAuthorized(ctx, http.MethodGet, "/info", "", nil)
	if err != nil {
		return nil, err
	}

	var si ServiceInfo
	if err := decodeResponse(resp, &si); err != nil {
		return nil, fmt.Errorf("ServiceInfo: %w", err)
	}

	return &si, nil
}

// CleanupTemp просит сервис удалить временные файлы, оставшиеся после проверок.
func (c *Client) CleanupTemp(ctx context.Context) (err error) {
	started := time.Now()
	defer func() { observe("cleanup", started, err) }()

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/cleanup", "", nil)
	if err != nil {
		return err
	}

	if err := decodeResponse(resp, nil); err != nil {
		return fmt.Errorf("CleanupTemp: %w", err)
	}
	return nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность сервиса валидации через /info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := c.ServiceInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Сервис валидации недоступен: %v", err)
	}

	if info.Status != "" && !strings.EqualFold(info.Status, "ok") && !strings.EqualFold(info.Status, "up") {
		return "degraded", fmt.Sprintf("Сервис валидации в состоянии %s", info.Status)
	}

	return "ok", "сервис валидации доступен"
}
