// processing.go — приём документов и фоновые задачи очереди.
//
// Ingest сохраняет содержимое, создаёт документ и ставит задачу
// document.process: она вычисляет SHA-256, размер и MIME-тип сохранённого
// содержимого. Задача validation.cleanup ставится после каждого подписания
// и очищает временные файлы сервиса валидации.
//
// Задачи, исчерпавшие попытки, сохраняются в dead_tasks (DeadTaskSink)
// и могут быть повторно поставлены в очередь через ReplayDeadTask.
// WatchFailures читает канал отказов очереди и пишет их в аудит.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/queue"
	"github.com/bigkaa/docsign/signing-module/internal/repository"
	"github.com/bigkaa/docsign/signing-module/internal/storage/filestore"
)

// Типы задач очереди.
const (
	TaskDocumentProcess   = "document.process"
	TaskValidationCleanup = "validation.cleanup"
)

type processPayload struct {
	DocumentID string `json:"documentId"`
}

type cleanupPayload struct {
	DocumentID string `json:"documentId"`
}

// TaskQueue — очередь, в которую ставятся и перезапускаются задачи.
// Реализуется queue.Queue.
type TaskQueue interface {
	TaskEnqueuer
	Register(taskType string, h queue.Handler)
	Requeue(task queue.Task) error
}

// TempCleaner — очистка временных файлов сервиса валидации.
// Реализуется validation.Client.
type TempCleaner interface {
	CleanupTemp(ctx context.Context) error
}

// UploadRequest — загружаемый документ.
type UploadRequest struct {
	Title     string
	Filename  string
	CreatedBy string
	Content   io.Reader
}

// ProcessingService — приём документов и обработчики фоновых задач.
type ProcessingService struct {
	store   *repository.Store
	tx      Transactor
	files   *filestore.FileStore
	cleaner TempCleaner
	queue   TaskQueue
	audit   *AuditLogger
	logger  *slog.Logger
	now     func() time.Time
}

// NewProcessingService создаёт сервис и регистрирует обработчики задач в очереди.
func NewProcessingService(
	store *repository.Store,
	tx Transactor,
	files *filestore.FileStore,
	cleaner TempCleaner,
	q TaskQueue,
	audit *AuditLogger,
	logger *slog.Logger,
) *ProcessingService {
	s := &ProcessingService{
		store:   store,
		tx:      tx,
		files:   files,
		cleaner: cleaner,
		queue:   q,
		audit:   audit,
		logger:  logger.With(slog.String("component", "processing")),
		now:     time.Now,
	}
	q.Register(TaskDocumentProcess, s.handleProcess)
	q.Register(TaskValidationCleanup, s.handleCleanup)
	return s
}

// Ingest сохраняет содержимое, создаёт документ и ставит задачу обработки.
func (s *ProcessingService) Ingest(ctx context.Context, req UploadRequest) (*model.Document, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("%w: имя файла обязательно", ErrValidation)
	}
	if req.CreatedBy == "" {
		req.CreatedBy = systemUser
	}
	title := req.Title
	if title == "" {
		title = req.Filename
	}

	saved, err := s.files.Save(req.Content, req.Filename, req.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("сохранение содержимого: %w", err)
	}

	doc := &model.Document{
		ID:              uuid.New().String(),
		Title:           title,
		StoragePath:     saved.StoragePath,
		Filename:        req.Filename,
		Size:            saved.Size,
		MimeType:        saved.MimeType,
		CurrentVersion:  1,
		SignatureStatus: model.StatusUnsigned,
		CreatedBy:       req.CreatedBy,
	}
	if err := s.store.Documents.Create(ctx, doc); err != nil {
		if delErr := s.files.Delete(saved.StoragePath); delErr != nil {
			s.logger.Warn("Не удалось удалить содержимое после ошибки создания документа",
				slog.String("storage_path", saved.StoragePath),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("создание документа: %w", err)
	}

	s.audit.Log(ctx, AuditEvent{
		UserID:     req.CreatedBy,
		Action:     model.ActionDocumentUpload,
		EntityType: model.EntityDocument,
		EntityID:   doc.ID,
		NewValue: map[string]any{
			"title":    doc.Title,
			"filename": doc.Filename,
			"size":     doc.Size,
		},
	})

	if _, err := s.queue.Enqueue(TaskDocumentProcess, processPayload{DocumentID: doc.ID}); err != nil {
		// Документ уже сохранён; обработку можно выполнить повторной загрузкой
		s.logger.Error("Не удалось поставить задачу обработки документа",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Документ загружен",
		slog.String("document_id", doc.ID),
		slog.String("filename", doc.Filename),
		slog.Int64("size", doc.Size),
	)
	return doc, nil
}

// handleProcess вычисляет контрольную сумму, размер и MIME-тип содержимого.
func (s *ProcessingService) handleProcess(ctx context.Context, task queue.Task) error {
	var p processPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("разбор нагрузки задачи: %w", err)
	}

	doc, err := s.store.Documents.GetByID(ctx, p.DocumentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Документ для обработки не найден, задача пропущена",
				slog.String("document_id", p.DocumentID),
			)
			return nil
		}
		return err
	}

	info, err := s.files.Inspect(doc.StoragePath)
	if err != nil {
		return fmt.Errorf("чтение содержимого документа %s: %w", doc.ID, err)
	}

	err = s.store.Documents.MarkProcessed(ctx, doc.ID, doc.StoragePath, info.Checksum, info.MimeType, info.Size, s.now().UTC())
	switch {
	case errors.Is(err, repository.ErrConflict):
		// Содержимое заменено подписанием; новое содержимое обработает своя задача
		s.logger.Info("Содержимое документа изменилось, результат обработки отброшен",
			slog.String("document_id", doc.ID),
			slog.String("storage_path", doc.StoragePath),
		)
		return nil
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("Документ удалён во время обработки, задача пропущена",
			slog.String("document_id", doc.ID),
		)
		return nil
	case err != nil:
		return err
	}

	s.logger.Debug("Документ обработан",
		slog.String("document_id", doc.ID),
		slog.String("checksum", info.Checksum),
		slog.String("mime_type", info.MimeType),
	)
	return nil
}

// handleCleanup очищает временные файлы сервиса валидации.
func (s *ProcessingService) handleCleanup(ctx context.Context, _ queue.Task) error {
	return s.cleaner.CleanupTemp(ctx)
}

// WatchFailures читает окончательные отказы очереди до закрытия канала
// или отмены ctx. Каждый отказ логируется и записывается в аудит.
func (s *ProcessingService) WatchFailures(ctx context.Context, failures <-chan *queue.Failure) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-failures:
			if !ok {
				return
			}
			s.logger.Error("Фоновая задача не выполнена",
				slog.String("task_id", f.Task.ID),
				slog.String("task_type", f.Task.Type),
				slog.Int("attempts", f.Task.Attempts),
				slog.String("error", f.Err.Error()),
			)
			s.audit.Log(ctx, AuditEvent{
				Action:     model.ActionTaskFailed,
				EntityType: model.EntityDeadTask,
				EntityID:   f.Task.ID,
				NewValue: map[string]any{
					"taskType": f.Task.Type,
					"attempts": f.Task.Attempts,
					"error":    f.Err.Error(),
				},
			})
		}
	}
}

// ListDeadTasks возвращает задачи, исчерпавшие попытки, и их общее количество.
func (s *ProcessingService) ListDeadTasks(ctx context.Context, limit, offset int) ([]*model.DeadTask, int, error) {
	tasks, err := s.store.DeadTasks.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.DeadTasks.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// ReplayDeadTask повторно ставит сохранённую задачу в очередь со сброшенным
// счётчиком попыток. Повторный перезапуск — ErrAlreadyReplayed.
func (s *ProcessingService) ReplayDeadTask(ctx context.Context, id, userID string) (*model.DeadTask, error) {
	var dead *model.DeadTask
	err := s.tx.InTx(ctx, func(store *repository.Store) error {
		var txErr error
		dead, txErr = store.DeadTasks.GetByID(ctx, id)
		if txErr != nil {
			return mapRepoError(txErr)
		}

		replayedAt := s.now().UTC()
		if txErr = store.DeadTasks.MarkReplayed(ctx, id, replayedAt); txErr != nil {
			if errors.Is(txErr, repository.ErrConflict) {
				return ErrAlreadyReplayed
			}
			return mapRepoError(txErr)
		}
		dead.ReplayedAt = &replayedAt

		// Если очередь не примет задачу, отметка о перезапуске откатится
		return s.queue.Requeue(queue.Task{
			ID:         dead.TaskID,
			Type:       dead.TaskType,
			Payload:    dead.Payload,
			EnqueuedAt: s.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, AuditEvent{
		UserID:     userID,
		Action:     model.ActionTaskReplay,
		EntityType: model.EntityDeadTask,
		EntityID:   id,
		NewValue:   map[string]any{"taskId": dead.TaskID, "taskType": dead.TaskType},
	})

	s.logger.Info("Задача повторно поставлена в очередь",
		slog.String("dead_task_id", id),
		slog.String("task_id", dead.TaskID),
		slog.String("task_type", dead.TaskType),
	)
	return dead, nil
}

// DeadTaskSink сохраняет задачи, исчерпавшие попытки, в dead_tasks.
// Реализует queue.DeadLetterSink.
type DeadTaskSink struct {
	repo repository.DeadTaskRepository
}

// NewDeadTaskSink создаёт DeadTaskSink.
func NewDeadTaskSink(repo repository.DeadTaskRepository) *DeadTaskSink {
	return &DeadTaskSink{repo: repo}
}

// Store сохраняет отказавшую задачу.
func (d *DeadTaskSink) Store(ctx context.Context, task queue.Task, cause error) error {
	lastError := task.LastError
	if cause != nil {
		lastError = cause.Error()
	}

	return d.repo.Create(ctx, &model.DeadTask{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		TaskType:  task.Type,
		Payload:   task.Payload,
		Attempts:  task.Attempts,
		LastError: lastError,
		FailedAt:  time.Now().UTC(),
	})
}
