// handler.go — основной обработчик API Signing Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/docsign/signing-module/internal/api/errors"
	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/service"
	"github.com/bigkaa/docsign/signing-module/internal/validation"
)

// Signer — операции подписания (service.SigningService).
type Signer interface {
	Sign(ctx context.Context, req service.SignRequest) (*service.SignResult, error)
	SignMultiple(ctx context.Context, items []service.BatchItem, signerID string) *service.BatchSignResult
	RevertSignature(ctx context.Context, signatureID, userID, reason string) (*service.DocumentSignatureStatus, error)
}

// StatusProvider — чтение и пересчёт статуса подписи (service.StatusService).
type StatusProvider interface {
	GetDocumentSignatureStatus(ctx context.Context, documentID string) (*service.DocumentSignatureStatus, error)
	UpdateDocumentSignatureStatus(ctx context.Context, documentID string) (*service.DocumentSignatureStatus, error)
}

// VersionHistory — история версий документа (service.VersionLedger).
type VersionHistory interface {
	History(ctx context.Context, documentID string) ([]*model.DocumentVersion, error)
}

// DocumentProcessor — приём документов и управление отказавшими задачами
// (service.ProcessingService).
type DocumentProcessor interface {
	Ingest(ctx context.Context, req service.UploadRequest) (*model.Document, error)
	ListDeadTasks(ctx context.Context, limit, offset int) ([]*model.DeadTask, int, error)
	ReplayDeadTask(ctx context.Context, id, userID string) (*model.DeadTask, error)
}

// ValidationInfoProvider — метаданные сервиса валидации (validation.Client).
type ValidationInfoProvider interface {
	ServiceInfo(ctx context.Context) (*validation.ServiceInfo, error)
}

// APIHandler — основной обработчик API Signing Module.
// Реализует ServerInterface, делегируя запросы в сервисный слой.
type APIHandler struct {
	health     *HealthHandler
	signer     Signer
	statuses   StatusProvider
	versions   VersionHistory
	processor  DocumentProcessor
	validation ValidationInfoProvider
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	signer Signer,
	statuses StatusProvider,
	versions VersionHistory,
	processor DocumentProcessor,
	validationInfo ValidationInfoProvider,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:     health,
		signer:     signer,
		statuses:   statuses,
		versions:   versions,
		processor:  processor,
		validation: validationInfo,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// queryInt разбирает целочисленный query-параметр. Отсутствующий — nil.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и возвращаются как 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrAlreadyReverted):
		apierrors.Conflict(w, apierrors.CodeAlreadyReverted, err.Error())
	case errors.Is(err, service.ErrAlreadyReplayed):
		apierrors.Conflict(w, apierrors.CodeAlreadyReplayed, err.Error())
	case errors.Is(err, validation.ErrServiceUnavailable), errors.Is(err, validation.ErrTransport):
		apierrors.ServiceUnavailable(w, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
