// audit.go — запись событий в журнал аудита.
//
// Ошибка записи аудита не прерывает бизнес-операцию: она логируется
// и подавляется. Сведения о запросе (IP, User-Agent, request id, вызывающий)
// передаются через context.Context из HTTP middleware.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/repository"
)

// systemUser — инициатор действий фоновых задач.
const systemUser = "system"

const auditWriteTimeout = 5 * time.Second

// RequestInfo — сведения о HTTP-запросе для журнала аудита.
type RequestInfo struct {
	// UserID — идентификатор вызывающего из bearer-токена (пустой без JWT)
	UserID    string
	IPAddress string
	UserAgent string
	RequestID string
}

type requestInfoKey struct{}

// WithRequestInfo сохраняет сведения о запросе в контексте.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom извлекает сведения о запросе из контекста.
func RequestInfoFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// AuditEvent — событие для журнала аудита.
type AuditEvent struct {
	// UserID — инициатор; пустой — берётся из RequestInfo, затем "system"
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	OldValue   map[string]any
	NewValue   map[string]any
}

// AuditLogger пишет события в audit_log.
type AuditLogger struct {
	repo   repository.AuditRepository
	logger *slog.Logger
}

// NewAuditLogger создаёт AuditLogger.
func NewAuditLogger(repo repository.AuditRepository, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		repo:   repo,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Log записывает событие. Отмена ctx не прерывает запись.
func (a *AuditLogger) Log(ctx context.Context, ev AuditEvent) {
	info := RequestInfoFrom(ctx)

	userID := ev.UserID
	if userID == "" {
		userID = info.UserID
	}
	if userID == "" {
		userID = systemUser
	}

	entry := &model.AuditEntry{
		UserID:     userID,
		Action:     ev.Action,
		Module:     model.AuditModuleSignatures,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		OldValue:   ev.OldValue,
		NewValue:   ev.NewValue,
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
		RequestID:  info.RequestID,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := a.repo.Insert(writeCtx, entry); err != nil {
		a.logger.Error("Не удалось записать событие аудита",
			slog.String("action", ev.Action),
			slog.String("entity_type", ev.EntityType),
			slog.String("entity_id", ev.EntityID),
			slog.String("error", err.Error()),
		)
	}
}
