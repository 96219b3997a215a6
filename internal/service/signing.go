// signing.go — оркестратор подписания документов.
//
// Sign выполняет одно подписание:
//  1. загрузка документа и проверка статуса SIGNED (без обращения к валидатору);
//  2. аудит SIGN_ATTEMPT и проверка подписи внешним сервисом валидации;
//  3. сохранение нового содержимого в файловое хранилище;
//  4. одна транзакция под блокировкой документа: архив прежней версии,
//     замена содержимого, новая подпись, пересчёт статуса;
//  5. обновление кэша, аудит SIGN, задача очистки временных файлов сервиса.
//
// Бизнес-отказы возвращаются в SignResult, ошибки инфраструктуры (БД,
// хранилище) — как error. Перед любым отказом пишется запись аудита.
//
// Prometheus-метрики:
//   - signing_operations_total — результаты подписаний (по outcome)
//   - signing_batch_size — размер пакетных запросов
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/repository"
	"github.com/bigkaa/docsign/signing-module/internal/storage/filestore"
	"github.com/bigkaa/docsign/signing-module/internal/validation"
)

// Коды бизнес-отказов подписания.
const (
	CodeNotFound                 = "NOT_FOUND"
	CodeAlreadySigned            = "ALREADY_SIGNED"
	CodeServiceUnavailable       = "SERVICE_UNAVAILABLE"
	CodeRemoteValidationError    = "REMOTE_VALIDATION_ERROR"
	CodeNoSignaturesFound        = "NO_SIGNATURES_FOUND"
	CodeValidationTransportError = "VALIDATION_TRANSPORT_ERROR"
	CodeInternalError            = "INTERNAL_ERROR"
)

// Итог подписания в SignResult.Status.
const (
	SignStatusSuccess = "success"
	SignStatusError   = "error"
)

// DefaultBatchConcurrency — параллелизм пакетного подписания по умолчанию.
const DefaultBatchConcurrency = 8

// Prometheus-метрики подписания.
var (
	signOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signing_operations_total",
		Help: "Количество операций подписания по результату",
	}, []string{"outcome"}) // outcome: success, код отказа, infrastructure

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signing_batch_size",
		Help:    "Количество документов в пакетном запросе подписания",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 … 128
	})
)

// Validator — проверка подписи внешним сервисом.
// Реализуется validation.Client.
type Validator interface {
	ValidateSignature(ctx context.Context, content []byte, extension string, original []byte) (*validation.Result, error)
}

// TaskEnqueuer — постановка фоновых задач.
// Реализуется queue.Queue.
type TaskEnqueuer interface {
	Enqueue(taskType string, payload any) (string, error)
}

// SignRequest — запрос на подписание документа.
type SignRequest struct {
	DocumentID string
	SignerID   string
	// Extension — расширение подписанного файла (pdf, xml, p7s ...)
	Extension string
	// Filename — имя подписанного файла; пустое — имя текущего содержимого
	Filename string
	// Content — подписанное содержимое
	Content []byte
	// Original — исходный документ для отделённой подписи (опционально)
	Original []byte
}

// SignResult — результат подписания одного документа.
type SignResult struct {
	DocumentID     string             `json:"documentId"`
	Status         string             `json:"status"`
	Code           string             `json:"code,omitempty"`
	Error          string             `json:"error,omitempty"`
	SignatureID    string             `json:"signatureId,omitempty"`
	Version        int                `json:"version,omitempty"`
	ValidationData *validation.Result `json:"validationData,omitempty"`
}

// Succeeded сообщает об успешном подписании.
func (r *SignResult) Succeeded() bool {
	return r.Status == SignStatusSuccess
}

// BatchItem — документ пакетного подписания.
type BatchItem struct {
	DocumentID string
	Extension  string
	Filename   string
	Content    []byte
	Original   []byte
}

// BatchSignResult — итог пакетного подписания.
// Results[i] соответствует i-му элементу запроса.
type BatchSignResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []SignResult `json:"results"`
}

// SigningService — оркестратор подписания.
type SigningService struct {
	store       *repository.Store
	tx          Transactor
	files       *filestore.FileStore
	validator   Validator
	ledger      *VersionLedger
	status      *StatusService
	audit       *AuditLogger
	tasks       TaskEnqueuer
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewSigningService создаёт оркестратор подписания.
// concurrency — максимум одновременных подписаний в SignMultiple (SM_BATCH_CONCURRENCY).
func NewSigningService(
	store *repository.Store,
	tx Transactor,
	files *filestore.FileStore,
	validator Validator,
	ledger *VersionLedger,
	statusSvc *StatusService,
	audit *AuditLogger,
	tasks TaskEnqueuer,
	concurrency int,
	logger *slog.Logger,
) *SigningService {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &SigningService{
		store:       store,
		tx:          tx,
		files:       files,
		validator:   validator,
		ledger:      ledger,
		status:      statusSvc,
		audit:       audit,
		tasks:       tasks,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "signing")),
		now:         time.Now,
	}
}

// Sign подписывает документ.
func (s *SigningService) Sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	doc, err := s.store.Documents.GetByID(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.reject(ctx, req, CodeNotFound, fmt.Sprintf("документ %s не найден", req.DocumentID)), nil
		}
		return nil, s.failInfrastructure(ctx, req, "загрузка документа", err)
	}

	if doc.SignatureStatus == model.StatusSigned {
		return s.reject(ctx, req, CodeAlreadySigned, "документ уже подписан"), nil
	}

	s.audit.Log(ctx, AuditEvent{
		UserID:     req.SignerID,
		Action:     model.ActionSignAttempt,
		EntityType: model.EntityDocument,
		EntityID:   doc.ID,
		NewValue:   map[string]any{"extension": req.Extension, "size": len(req.Content)},
	})

	res, err := s.validator.ValidateSignature(ctx, req.Content, req.Extension, req.Original)
	if err == nil && (res == nil || len(res.ListSignatures) == 0) {
		err = validation.ErrNoSignaturesFound
	}
	if err != nil {
		return s.reject(ctx, req, validationErrorCode(err), err.Error()), nil
	}

	filename := req.Filename
	if filename == "" {
		filename = doc.Filename
	}
	saved, err := s.files.SaveBytes(req.Content, filename, req.SignerID)
	if err != nil {
		return nil, s.failInfrastructure(ctx, req, "сохранение подписанного содержимого", err)
	}

	var (
		sig     *model.Signature
		version int
		updated *DocumentSignatureStatus
	)
	err = s.tx.InTx(ctx, func(store *repository.Store) error {
		locked, txErr := store.Documents.GetForUpdate(ctx, req.DocumentID)
		if txErr != nil {
			return mapRepoError(txErr)
		}
		// Повторная проверка под блокировкой: параллельное подписание того же документа
		if locked.SignatureStatus == model.StatusSigned {
			return ErrAlreadySigned
		}

		archived, txErr := s.ledger.Archive(ctx, store, locked, req.SignerID)
		if txErr != nil {
			return txErr
		}

		now := s.now().UTC()
		signer := req.SignerID
		locked.StoragePath = saved.StoragePath
		locked.Filename = filename
		locked.Size = saved.Size
		locked.MimeType = saved.MimeType
		locked.CurrentVersion++
		locked.LastSignedAt = &now
		locked.LastSignedBy = &signer
		if txErr = store.Documents.ReplaceContent(ctx, locked); txErr != nil {
			return mapRepoError(txErr)
		}

		sig = buildSignature(locked.ID, archived.ID, req.SignerID, res, now)
		if txErr = store.Signatures.Create(ctx, sig); txErr != nil {
			return txErr
		}

		updated, txErr = s.status.RefreshTx(ctx, store, locked.ID)
		version = locked.CurrentVersion
		return txErr
	})
	if err != nil {
		if delErr := s.files.Delete(saved.StoragePath); delErr != nil {
			s.logger.Warn("Не удалось удалить содержимое после отката транзакции",
				slog.String("storage_path", saved.StoragePath),
				slog.String("error", delErr.Error()),
			)
		}
		switch {
		case errors.Is(err, ErrAlreadySigned):
			return s.reject(ctx, req, CodeAlreadySigned, "документ уже подписан"), nil
		case errors.Is(err, ErrNotFound):
			return s.reject(ctx, req, CodeNotFound, fmt.Sprintf("документ %s не найден", req.DocumentID)), nil
		}
		return nil, s.failInfrastructure(ctx, req, "транзакция подписания", err)
	}

	s.status.publish(ctx, updated, req.SignerID)

	s.audit.Log(ctx, AuditEvent{
		UserID:     req.SignerID,
		Action:     model.ActionSign,
		EntityType: model.EntityDocument,
		EntityID:   req.DocumentID,
		NewValue: map[string]any{
			"signatureId":     sig.ID,
			"version":         version,
			"signerName":      sig.SignatureData.SignerName,
			"isValid":         sig.IsValid,
			"result":          res.Result,
			"signatures":      res.Signatures,
			"validSignatures": res.ValidSignatures,
		},
	})

	// Контрольная сумма сброшена при замене содержимого
	if _, err := s.tasks.Enqueue(TaskDocumentProcess, processPayload{DocumentID: req.DocumentID}); err != nil {
		s.logger.Warn("Не удалось поставить задачу обработки подписанного документа",
			slog.String("document_id", req.DocumentID),
			slog.String("error", err.Error()),
		)
	}
	if _, err := s.tasks.Enqueue(TaskValidationCleanup, cleanupPayload{DocumentID: req.DocumentID}); err != nil {
		s.logger.Warn("Не удалось поставить задачу очистки сервиса валидации",
			slog.String("document_id", req.DocumentID),
			slog.String("error", err.Error()),
		)
	}

	signOperationsTotal.WithLabelValues(SignStatusSuccess).Inc()
	s.logger.Info("Документ подписан",
		slog.String("document_id", req.DocumentID),
		slog.String("signature_id", sig.ID),
		slog.Int("version", version),
		slog.String("status", string(updated.Status)),
	)

	return &SignResult{
		DocumentID:     req.DocumentID,
		Status:         SignStatusSuccess,
		SignatureID:    sig.ID,
		Version:        version,
		ValidationData: res,
	}, nil
}

// SignMultiple подписывает несколько документов параллельно.
// Дожидается завершения всех элементов; ошибка одного не прерывает остальные.
func (s *SigningService) SignMultiple(ctx context.Context, items []BatchItem, signerID string) *BatchSignResult {
	batchID := uuid.New().String()
	batchSize.Observe(float64(len(items)))

	s.audit.Log(ctx, AuditEvent{
		UserID:     signerID,
		Action:     model.ActionSignBatchAttempt,
		EntityType: model.EntityBatch,
		EntityID:   batchID,
		NewValue:   map[string]any{"total": len(items), "documentIds": batchDocumentIDs(items)},
	})

	results := make([]SignResult, len(items))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.Sign(ctx, SignRequest{
				DocumentID: item.DocumentID,
				SignerID:   signerID,
				Extension:  item.Extension,
				Filename:   item.Filename,
				Content:    item.Content,
				Original:   item.Original,
			})
			if err != nil {
				results[i] = SignResult{
					DocumentID: item.DocumentID,
					Status:     SignStatusError,
					Code:       CodeInternalError,
					Error:      err.Error(),
				}
				return
			}
			results[i] = *res
		}()
	}
	wg.Wait()

	out := &BatchSignResult{Total: len(items), Results: results}
	for i := range results {
		if results[i].Succeeded() {
			out.Successful++
		} else {
			out.Failed++
		}
	}

	s.audit.Log(ctx, AuditEvent{
		UserID:     signerID,
		Action:     model.ActionSignBatchCompleted,
		EntityType: model.EntityBatch,
		EntityID:   batchID,
		NewValue: map[string]any{
			"total":      out.Total,
			"successful": out.Successful,
			"failed":     out.Failed,
		},
	})

	s.logger.Info("Пакетное подписание завершено",
		slog.String("batch_id", batchID),
		slog.Int("total", out.Total),
		slog.Int("successful", out.Successful),
		slog.Int("failed", out.Failed),
	)

	return out
}

// RevertSignature помечает подпись отозванной и пересчитывает статус документа.
// Подпись не удаляется.
func (s *SigningService) RevertSignature(ctx context.Context, signatureID, userID, reason string) (*DocumentSignatureStatus, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: причина отзыва обязательна", ErrValidation)
	}

	sig, err := s.store.Signatures.GetByID(ctx, signatureID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if sig.IsReverted {
		return nil, ErrAlreadyReverted
	}

	var updated *DocumentSignatureStatus
	err = s.tx.InTx(ctx, func(store *repository.Store) error {
		if _, txErr := store.Documents.GetForUpdate(ctx, sig.DocumentID); txErr != nil {
			return mapRepoError(txErr)
		}

		if txErr := store.Signatures.Revert(ctx, signatureID, userID, reason, s.now().UTC()); txErr != nil {
			if errors.Is(txErr, repository.ErrConflict) {
				return ErrAlreadyReverted
			}
			return mapRepoError(txErr)
		}

		var txErr error
		updated, txErr = s.status.RefreshTx(ctx, store, sig.DocumentID)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.status.publish(ctx, updated, userID)

	s.audit.Log(ctx, AuditEvent{
		UserID:     userID,
		Action:     model.ActionSignatureRevert,
		EntityType: model.EntitySignature,
		EntityID:   signatureID,
		OldValue:   map[string]any{"isReverted": false},
		NewValue: map[string]any{
			"isReverted": true,
			"reason":     reason,
			"documentId": sig.DocumentID,
		},
	})

	s.logger.Info("Подпись отозвана",
		slog.String("signature_id", signatureID),
		slog.String("document_id", sig.DocumentID),
		slog.String("status", string(updated.Status)),
	)

	return updated, nil
}

// reject пишет аудит SIGN_FAILED и формирует бизнес-отказ.
func (s *SigningService) reject(ctx context.Context, req SignRequest, code, message string) *SignResult {
	signOperationsTotal.WithLabelValues(code).Inc()
	s.audit.Log(ctx, AuditEvent{
		UserID:     req.SignerID,
		Action:     model.ActionSignFailed,
		EntityType: model.EntityDocument,
		EntityID:   req.DocumentID,
		NewValue:   map[string]any{"code": code, "error": message},
	})
	s.logger.Warn("Подписание отклонено",
		slog.String("document_id", req.DocumentID),
		slog.String("code", code),
		slog.String("error", message),
	)
	return &SignResult{
		DocumentID: req.DocumentID,
		Status:     SignStatusError,
		Code:       code,
		Error:      message,
	}
}

// failInfrastructure пишет аудит SIGN_FAILED и возвращает обёрнутую ошибку.
func (s *SigningService) failInfrastructure(ctx context.Context, req SignRequest, op string, err error) error {
	signOperationsTotal.WithLabelValues("infrastructure").Inc()
	s.audit.Log(ctx, AuditEvent{
		UserID:     req.SignerID,
		Action:     model.ActionSignFailed,
		EntityType: model.EntityDocument,
		EntityID:   req.DocumentID,
		NewValue:   map[string]any{"code": CodeInternalError, "error": err.Error()},
	})
	s.logger.Error("Ошибка инфраструктуры при подписании",
		slog.String("document_id", req.DocumentID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s: %w", op, err)
}

// validationErrorCode сопоставляет ошибку сервиса валидации с кодом отказа.
func validationErrorCode(err error) string {
	var remote *validation.RemoteError
	switch {
	case errors.Is(err, validation.ErrNoSignaturesFound):
		return CodeNoSignaturesFound
	case errors.Is(err, validation.ErrServiceUnavailable):
		return CodeServiceUnavailable
	case errors.As(err, &remote):
		return CodeRemoteValidationError
	default:
		return CodeValidationTransportError
	}
}

// buildSignature формирует подпись по отчёту валидации.
// Данные подписанта и сертификата берутся из первой подписи отчёта.
func buildSignature(documentID, versionID, signerID string, res *validation.Result, now time.Time) *model.Signature {
	entry := res.ListSignatures[0]

	return &model.Signature{
		ID:                uuid.New().String(),
		DocumentID:        documentID,
		DocumentVersionID: &versionID,
		SignerID:          signerID,
		SignatureData: model.SignatureData{
			SignerName:   entry.SignerName,
			Algorithm:    entry.Algorithm,
			SerialNumber: entry.SerialNumber,
			SubjectDN:    entry.SubjectDN,
			IssuerDN:     entry.IssuerDN,
			Indications:  entry.Indications,
			Warnings:     entry.Warnings,
			Errors:       entry.Errors,
			SigningTime:  entry.SigningTime,
		},
		CertificateData: model.CertificateData{
			NotBefore: entry.Certificate.NotBefore,
			NotAfter:  entry.Certificate.NotAfter,
			Trusted:   entry.Certificate.Trusted,
			Chain:     entry.Certificate.Chain,
		},
		Status:    res.Result,
		IsValid:   res.Valid(),
		Timestamp: now,
	}
}

func batchDocumentIDs(items []BatchItem) []string {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].DocumentID
	}
	return ids
}
