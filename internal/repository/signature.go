package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// SignatureRepository — доступ к таблице signatures.
// Подписи не удаляются; после создания меняются только поля отзыва.
type SignatureRepository interface {
	// Create сохраняет новую подпись.
	Create(ctx context.Context, s *model.Signature) error
	// GetByID возвращает подпись по UUID.
	GetByID(ctx context.Context, id string) (*model.Signature, error)
	// ListByDocument возвращает подписи документа от новых к старым.
	ListByDocument(ctx context.Context, documentID string) ([]model.Signature, error)
	// Revert помечает подпись отозванной. Уже отозванная подпись — ErrConflict.
	Revert(ctx context.Context, id, revertedBy, reason string, revertedAt time.Time) error
}

const signatureColumns = `id, document_id, document_version_id, signer_id, signature_data,
	certificate_data, status, is_valid, timestamp, is_reverted, reverted_at, reverted_by, revert_reason`

type signatureRepo struct {
	db DBTX
}

// NewSignatureRepository создаёт репозиторий подписей.
func NewSignatureRepository(db DBTX) SignatureRepository {
	return &signatureRepo{db: db}
}

func scanSignature(row rowScanner, s *model.Signature) error {
	return row.Scan(
		&s.ID, &s.DocumentID, &s.DocumentVersionID, &s.SignerID, &s.SignatureData,
		&s.CertificateData, &s.Status, &s.IsValid, &s.Timestamp, &s.IsReverted,
		&s.RevertedAt, &s.RevertedBy, &s.RevertReason,
	)
}

func (r *signatureRepo) Create(ctx context.Context, s *model.Signature) error {
	query := `
		INSERT INTO signatures (id, document_id, document_version_id, signer_id,
			signature_data, certificate_data, status, is_valid, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		s.ID, s.DocumentID, s.DocumentVersionID, s.SignerID,
		s.SignatureData, s.CertificateData, s.Status, s.IsValid, s.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: подпись с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения подписи: %w", err)
	}
	return nil
}

func (r *signatureRepo) GetByID(ctx context.Context, id string) (*model.Signature, error) {
	s := &model.Signature{}
	err := scanSignature(r.db.QueryRow(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE id = $1`, id), s)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения подписи: %w", err)
	}
	return s, nil
}

func (r *signatureRepo) ListByDocument(ctx context.Context, documentID string) ([]model.Signature, error) {
	query := `SELECT ` + signatureColumns + `
		FROM signatures
		WHERE document_id = $1
		ORDER BY timestamp DESC, id`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения подписей документа: %w", err)
	}
	defer rows.Close()

	var result []model.Signature
	for rows.Next() {
		var s model.Signature
		if err := scanSignature(rows, &s); err != nil {
			return nil, fmt.Errorf("ошибка сканирования подписи: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *signatureRepo) Revert(ctx context.Context, id, revertedBy, reason string, revertedAt time.Time) error {
	query := `
		UPDATE signatures
		SET is_reverted = TRUE, reverted_at = $2, reverted_by = $3, revert_reason = $4
		WHERE id = $1 AND NOT is_reverted`

	tag, err := r.db.Exec(ctx, query, id, revertedAt, revertedBy, reason)
	if err != nil {
		return fmt.Errorf("ошибка отзыва подписи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Различаем отсутствующую и уже отозванную подпись
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: подпись уже отозвана", ErrConflict)
	}
	return nil
}
