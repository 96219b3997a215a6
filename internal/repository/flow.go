package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// FlowRepository — доступ к таблице signature_flows.
// Процессы подписания ведёт другой модуль, здесь они только читаются.
type FlowRepository interface {
	// ListActiveByDocument возвращает процессы документа, кроме
	// отменённых, отклонённых и просроченных.
	ListActiveByDocument(ctx context.Context, documentID string) ([]model.SignatureFlow, error)
}

type flowRepo struct {
	db DBTX
}

// NewFlowRepository создаёт репозиторий процессов подписания.
func NewFlowRepository(db DBTX) FlowRepository {
	return &flowRepo{db: db}
}

func (r *flowRepo) ListActiveByDocument(ctx context.Context, documentID string) ([]model.SignatureFlow, error) {
	query := `
		SELECT id, document_id, signers, current_step, status, created_at, updated_at
		FROM signature_flows
		WHERE document_id = $1
			AND status NOT IN ('CANCELLED', 'REJECTED', 'EXPIRED')
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения процессов подписания: %w", err)
	}
	defer rows.Close()

	var result []model.SignatureFlow
	for rows.Next() {
		var f model.SignatureFlow
		if err := rows.Scan(
			&f.ID, &f.DocumentID, &f.Signers, &f.CurrentStep, &f.Status, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования процесса подписания: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}
