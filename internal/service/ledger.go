// ledger.go — журнал версий документа.
//
// Перед заменой содержимого документа прежнее содержимое фиксируется
// как неизменяемая версия с номером, равным текущей версии документа.
// Номера версий идут без пропусков: архивирование выполняется под
// блокировкой строки документа, пара (document_id, version_number) уникальна.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/repository"
)

// archiveDescription — описание версии, сохраняемой перед подписанием.
const archiveDescription = "Versión previa a la firma digital"

// VersionLedger — архивирование и чтение версий документов.
type VersionLedger struct {
	store *repository.Store
}

// NewVersionLedger создаёт VersionLedger.
func NewVersionLedger(store *repository.Store) *VersionLedger {
	return &VersionLedger{store: store}
}

// Archive сохраняет текущее содержимое doc как версию doc.CurrentVersion.
// store должен быть привязан к транзакции, удерживающей блокировку документа.
func (l *VersionLedger) Archive(ctx context.Context, store *repository.Store, doc *model.Document, createdBy string) (*model.DocumentVersion, error) {
	v := &model.DocumentVersion{
		ID:                uuid.New().String(),
		DocumentID:        doc.ID,
		VersionNumber:     doc.CurrentVersion,
		StoragePath:       doc.StoragePath,
		Filename:          doc.Filename,
		Size:              doc.Size,
		ChangeDescription: archiveDescription,
		CreatedBy:         createdBy,
	}

	if err := store.Versions.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("архивирование версии %d: %w", doc.CurrentVersion, err)
	}
	return v, nil
}

// History возвращает версии документа от новых к старым.
func (l *VersionLedger) History(ctx context.Context, documentID string) ([]*model.DocumentVersion, error) {
	if _, err := l.store.Documents.GetByID(ctx, documentID); err != nil {
		return nil, mapRepoError(err)
	}

	versions, err := l.store.Versions.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return versions, nil
}
