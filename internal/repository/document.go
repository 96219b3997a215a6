package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// DocumentRepository — доступ к таблице documents.
type DocumentRepository interface {
	// Create создаёт документ.
	Create(ctx context.Context, d *model.Document) error
	// GetByID возвращает документ по UUID.
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// GetForUpdate возвращает документ, блокируя строку до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (*model.Document, error)
	// ReplaceContent записывает новое содержимое, номер версии и сведения о подписанте.
	ReplaceContent(ctx context.Context, d *model.Document) error
	// UpdateSignatureStatus сохраняет вычисленный статус подписи.
	UpdateSignatureStatus(ctx context.Context, id string, status model.SignatureStatus, lastSignedAt *time.Time, lastSignedBy *string) error
	// MarkProcessed сохраняет результаты фоновой обработки содержимого,
	// если storage_path документа всё ещё равен storagePath. Иначе — ErrConflict.
	MarkProcessed(ctx context.Context, id, storagePath, checksum, mimeType string, size int64, processedAt time.Time) error
}

const documentColumns = `id, title, storage_path, filename, size, mime_type, checksum,
	current_version, signature_status, last_signed_at, last_signed_by, processed_at,
	created_by, created_at, updated_at`

// documentRepo — реализация DocumentRepository.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

// rowScanner — общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	d := &model.Document{}
	err := row.Scan(
		&d.ID, &d.Title, &d.StoragePath, &d.Filename, &d.Size, &d.MimeType, &d.Checksum,
		&d.CurrentVersion, &d.SignatureStatus, &d.LastSignedAt, &d.LastSignedBy, &d.ProcessedAt,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (r *documentRepo) Create(ctx context.Context, d *model.Document) error {
	query := `
		INSERT INTO documents (id, title, storage_path, filename, size, mime_type,
			current_version, signature_status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.Title, d.StoragePath, d.Filename, d.Size, d.MimeType,
		d.CurrentVersion, d.SignatureStatus, d.CreatedBy,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	return r.get(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
}

func (r *documentRepo) GetForUpdate(ctx context.Context, id string) (*model.Document, error) {
	return r.get(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id)
}

func (r *documentRepo) get(ctx context.Context, query, id string) (*model.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

func (r *documentRepo) ReplaceContent(ctx context.Context, d *model.Document) error {
	// Контрольная сумма сбрасывается: она относится к прежнему содержимому
	query := `
		UPDATE documents
		SET storage_path = $2, filename = $3, size = $4, mime_type = $5, checksum = NULL,
			current_version = $6, last_signed_at = $7, last_signed_by = $8
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.StoragePath, d.Filename, d.Size, d.MimeType,
		d.CurrentVersion, d.LastSignedAt, d.LastSignedBy,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления содержимого документа: %w", err)
	}
	d.Checksum = nil
	return nil
}

func (r *documentRepo) UpdateSignatureStatus(
	ctx context.Context,
	id string,
	status model.SignatureStatus,
	lastSignedAt *time.Time,
	lastSignedBy *string,
) error {
	query := `
		UPDATE documents
		SET signature_status = $2, last_signed_at = $3, last_signed_by = $4
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status, lastSignedAt, lastSignedBy)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса подписи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) MarkProcessed(
	ctx context.Context,
	id, storagePath, checksum, mimeType string,
	size int64,
	processedAt time.Time,
) error {
	query := `
		UPDATE documents
		SET checksum = $2, mime_type = $3, size = $4, processed_at = $5
		WHERE id = $1 AND storage_path = $6`

	tag, err := r.db.Exec(ctx, query, id, checksum, mimeType, size, processedAt, storagePath)
	if err != nil {
		return fmt.Errorf("ошибка сохранения результатов обработки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Различаем удалённый документ и заменённое содержимое
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: содержимое документа изменилось", ErrConflict)
	}
	return nil
}
