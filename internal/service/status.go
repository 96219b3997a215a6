// status.go — сервис статуса подписи документов.
//
// StatusService пересчитывает статус через status.Compute, сохраняет его
// в documents, обновляет кэш и пишет SIGNATURE_STATUS_UPDATE при изменении.
// Пересчёт всегда выполняется последним шагом изменяющей транзакции.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/domain/status"
	"github.com/bigkaa/docsign/signing-module/internal/repository"
)

// Transactor выполняет fn с набором репозиториев внутри одной транзакции.
// Реализуется repository.TxRunner.
type Transactor interface {
	InTx(ctx context.Context, fn func(store *repository.Store) error) error
}

// DocumentSignatureStatus — статус подписи документа для чтения.
type DocumentSignatureStatus struct {
	DocumentID     string `json:"documentId"`
	Title          string `json:"title"`
	CurrentVersion int    `json:"currentVersion"`
	// Status — статус, сохранённый в documents
	Status model.SignatureStatus `json:"status"`
	// PreviousStatus — статус до последнего пересчёта (пустой, если не менялся)
	PreviousStatus model.SignatureStatus `json:"previousStatus,omitempty"`
	// Summary — результат вычисления по подписям и процессам
	Summary    status.Result `json:"summary"`
	ComputedAt time.Time     `json:"computedAt"`
}

// Changed сообщает, изменился ли статус при последнем пересчёте.
func (s *DocumentSignatureStatus) Changed() bool {
	return s.PreviousStatus != "" && s.PreviousStatus != s.Status
}

// StatusService — чтение и пересчёт статуса подписи.
type StatusService struct {
	store  *repository.Store
	tx     Transactor
	cache  *StatusCache
	audit  *AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewStatusService создаёт сервис статусов подписи.
func NewStatusService(
	store *repository.Store,
	tx Transactor,
	cache *StatusCache,
	audit *AuditLogger,
	logger *slog.Logger,
) *StatusService {
	return &StatusService{
		store:  store,
		tx:     tx,
		cache:  cache,
		audit:  audit,
		logger: logger.With(slog.String("component", "signature_status")),
		now:    time.Now,
	}
}

// GetDocumentSignatureStatus возвращает статус подписи документа.
// Значение берётся из кэша; при промахе вычисляется по текущим данным БД.
func (s *StatusService) GetDocumentSignatureStatus(ctx context.Context, documentID string) (*DocumentSignatureStatus, error) {
	if cached, ok := s.cache.Get(documentID); ok {
		return cached, nil
	}

	doc, err := s.store.Documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	result, err := s.compute(ctx, s.store, documentID)
	if err != nil {
		return nil, err
	}

	st := &DocumentSignatureStatus{
		DocumentID:     doc.ID,
		Title:          doc.Title,
		CurrentVersion: doc.CurrentVersion,
		Status:         doc.SignatureStatus,
		Summary:        result,
		ComputedAt:     s.now().UTC(),
	}
	s.cache.Set(documentID, st)
	return st, nil
}

// UpdateDocumentSignatureStatus пересчитывает, сохраняет и возвращает статус документа.
func (s *StatusService) UpdateDocumentSignatureStatus(ctx context.Context, documentID string) (*DocumentSignatureStatus, error) {
	return s.Refresh(ctx, documentID)
}

// Refresh пересчитывает статус в отдельной транзакции.
// Отсутствующий документ — ErrNotFound.
func (s *StatusService) Refresh(ctx context.Context, documentID string) (*DocumentSignatureStatus, error) {
	var st *DocumentSignatureStatus
	err := s.tx.InTx(ctx, func(store *repository.Store) error {
		var txErr error
		st, txErr = s.RefreshTx(ctx, store, documentID)
		return txErr
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Документ удалён: закэшированный статус больше не действителен
			s.cache.Delete(documentID)
		}
		return nil, err
	}

	s.publish(ctx, st, "")
	return st, nil
}

// RefreshTx пересчитывает и сохраняет статус внутри открытой транзакции.
// Строка документа блокируется до конца транзакции. Кэш и аудит
// обновляются вызывающим после коммита.
func (s *StatusService) RefreshTx(ctx context.Context, store *repository.Store, documentID string) (*DocumentSignatureStatus, error) {
	doc, err := store.Documents.GetForUpdate(ctx, documentID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	result, err := s.compute(ctx, store, documentID)
	if err != nil {
		return nil, err
	}

	if err := store.Documents.UpdateSignatureStatus(ctx, documentID, result.Status, result.LastSignedAt, result.LastSignedBy); err != nil {
		return nil, mapRepoError(err)
	}

	return &DocumentSignatureStatus{
		DocumentID:     doc.ID,
		Title:          doc.Title,
		CurrentVersion: doc.CurrentVersion,
		Status:         result.Status,
		PreviousStatus: doc.SignatureStatus,
		Summary:        result,
		ComputedAt:     s.now().UTC(),
	}, nil
}

// compute загружает подписи и действующие процессы и вычисляет статус.
func (s *StatusService) compute(ctx context.Context, store *repository.Store, documentID string) (status.Result, error) {
	signatures, err := store.Signatures.ListByDocument(ctx, documentID)
	if err != nil {
		return status.Result{}, fmt.Errorf("загрузка подписей: %w", err)
	}

	flows, err := store.Flows.ListActiveByDocument(ctx, documentID)
	if err != nil {
		return status.Result{}, fmt.Errorf("загрузка процессов подписания: %w", err)
	}

	return status.Compute(signatures, flows), nil
}

// publish обновляет кэш и пишет аудит после коммита транзакции.
func (s *StatusService) publish(ctx context.Context, st *DocumentSignatureStatus, userID string) {
	s.cache.Set(st.DocumentID, st)

	if !st.Changed() {
		return
	}

	s.logger.Info("Статус подписи документа изменён",
		slog.String("document_id", st.DocumentID),
		slog.String("old_status", string(st.PreviousStatus)),
		slog.String("new_status", string(st.Status)),
	)

	s.audit.Log(ctx, AuditEvent{
		UserID:     userID,
		Action:     model.ActionSignatureStatusUpdate,
		EntityType: model.EntityDocument,
		EntityID:   st.DocumentID,
		OldValue:   map[string]any{"signatureStatus": st.PreviousStatus},
		NewValue: map[string]any{
			"signatureStatus":  st.Status,
			"activeSignatures": st.Summary.ActiveSignatures,
		},
	})
}

// mapRepoError преобразует repository.ErrNotFound в ErrNotFound сервисного слоя.
func mapRepoError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
