package model

import "time"

// Действия журнала аудита.
const (
	ActionSignAttempt           = "SIGN_ATTEMPT"
	ActionSign                  = "SIGN"
	ActionSignFailed            = "SIGN_FAILED"
	ActionSignBatchAttempt      = "SIGN_BATCH_ATTEMPT"
	ActionSignBatchCompleted    = "SIGN_BATCH_COMPLETED"
	ActionSignatureRevert       = "SIGNATURE_REVERT"
	ActionSignatureStatusUpdate = "SIGNATURE_STATUS_UPDATE"
	ActionDocumentUpload        = "DOCUMENT_UPLOAD"
	ActionTaskReplay            = "TASK_REPLAY"
	ActionTaskFailed            = "TASK_FAILED"
)

// Модуль, от имени которого пишутся записи аудита.
const AuditModuleSignatures = "signatures"

// Типы сущностей в журнале аудита.
const (
	EntityDocument  = "document"
	EntitySignature = "signature"
	EntityBatch     = "batch"
	EntityDeadTask  = "dead_task"
)

// AuditEntry — запись журнала аудита.
// Хранится в таблице audit_log.
type AuditEntry struct {
	// ID — порядковый номер записи
	ID int64
	// UserID — инициатор действия
	UserID string
	// Action — действие (SIGN, SIGN_ATTEMPT, ...)
	Action string
	// Module — модуль-источник
	Module string
	// EntityType — тип сущности
	EntityType string
	// EntityID — идентификатор сущности
	EntityID string
	// OldValue — состояние до изменения (jsonb)
	OldValue map[string]any
	// NewValue — состояние после изменения (jsonb)
	NewValue map[string]any
	// IPAddress — IP-адрес клиента
	IPAddress string
	// UserAgent — User-Agent клиента
	UserAgent string
	// RequestID — идентификатор HTTP-запроса
	RequestID string
	// CreatedAt — время записи
	CreatedAt time.Time
}
