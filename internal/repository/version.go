package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// VersionRepository — доступ к таблице document_versions.
// Версии неизменяемы: репозиторий не содержит операций обновления и удаления.
type VersionRepository interface {
	// Create сохраняет новую версию. Повтор номера версии — ErrConflict.
	Create(ctx context.Context, v *model.DocumentVersion) error
	// ListByDocument возвращает версии документа от новых к старым.
	ListByDocument(ctx context.Context, documentID string) ([]*model.DocumentVersion, error)
}

type versionRepo struct {
	db DBTX
}

// NewVersionRepository создаёт репозиторий версий документов.
func NewVersionRepository(db DBTX) VersionRepository {
	return &versionRepo{db: db}
}

func (r *versionRepo) Create(ctx context.Context, v *model.DocumentVersion) error {
	query := `
		INSERT INTO document_versions (id, document_id, version_number, storage_path,
			filename, size, change_description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		v.ID, v.DocumentID, v.VersionNumber, v.StoragePath,
		v.Filename, v.Size, v.ChangeDescription, v.CreatedBy,
	).Scan(&v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: версия %d документа %s уже существует", ErrConflict, v.VersionNumber, v.DocumentID)
		}
		return fmt.Errorf("ошибка создания версии документа: %w", err)
	}
	return nil
}

func (r *versionRepo) ListByDocument(ctx context.Context, documentID string) ([]*model.DocumentVersion, error) {
	query := `
		SELECT id, document_id, version_number, storage_path, filename, size,
			change_description, created_by, created_at
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number DESC`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения версий документа: %w", err)
	}
	defer rows.Close()

	result := []*model.DocumentVersion{}
	for rows.Next() {
		v := &model.DocumentVersion{}
		if err := rows.Scan(
			&v.ID, &v.DocumentID, &v.VersionNumber, &v.StoragePath, &v.Filename, &v.Size,
			&v.ChangeDescription, &v.CreatedBy, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования версии: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
