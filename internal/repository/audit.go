package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// AuditRepository — запись и чтение журнала audit_log.
type AuditRepository interface {
	// Insert добавляет запись в журнал.
	Insert(ctx context.Context, e *model.AuditEntry) error
	// ListByEntity возвращает записи по сущности от новых к старым.
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*model.AuditEntry, error)
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	query := `
		INSERT INTO audit_log (user_id, action, module, entity_type, entity_id,
			old_value, new_value, ip_address, user_agent, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		e.UserID, e.Action, e.Module, e.EntityType, e.EntityID,
		e.OldValue, e.NewValue, e.IPAddress, e.UserAgent, e.RequestID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*model.AuditEntry, error) {
	query := `
		SELECT id, user_id, action, module, entity_type, entity_id, old_value, new_value,
			COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''), created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала аудита: %w", err)
	}
	defer rows.Close()

	result := []*model.AuditEntry{}
	for rows.Next() {
		e := &model.AuditEntry{}
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Action, &e.Module, &e.EntityType, &e.EntityID,
			&e.OldValue, &e.NewValue, &e.IPAddress, &e.UserAgent, &e.RequestID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
