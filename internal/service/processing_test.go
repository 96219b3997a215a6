package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/queue"
)

func TestIngestAndProcess(t *testing.T) {
	env := newTestEnv(t)
	content := "%PDF-1.7 acta de sesión"

	doc, err := env.processing.Ingest(context.Background(), UploadRequest{
		Title:     "Acta 12",
		Filename:  "acta.pdf",
		CreatedBy: "registrador",
		Content:   strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Ingest() вернул ошибку: %v", err)
	}
	if doc.CurrentVersion != 1 || doc.SignatureStatus != model.StatusUnsigned {
		t.Errorf("документ = %+v, ожидается версия 1 UNSIGNED", doc)
	}
	if !slices.Equal(env.queue.types(), []string{TaskDocumentProcess}) {
		t.Fatalf("задачи = %v, ожидается document.process", env.queue.types())
	}
	if !slices.Contains(env.db.auditActions(), model.ActionDocumentUpload) {
		t.Error("ожидалась запись аудита DOCUMENT_UPLOAD")
	}

	if err := env.queue.run(t, 0); err != nil {
		t.Fatalf("обработка документа: %v", err)
	}

	sum := sha256.Sum256([]byte(content))
	stored := env.db.document(t, doc.ID)
	if stored.Checksum == nil || *stored.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum = %v, ожидается %x", stored.Checksum, sum)
	}
	if stored.MimeType != "application/pdf" || stored.ProcessedAt == nil {
		t.Errorf("MimeType = %q, ProcessedAt = %v", stored.MimeType, stored.ProcessedAt)
	}
}

func TestIngest_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.processing.Ingest(context.Background(), UploadRequest{Content: strings.NewReader("x")})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Ingest() = %v, ожидается ErrValidation", err)
	}
}

func TestProcess_MissingDocumentSkipped(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := json.Marshal(processPayload{DocumentID: "missing"})
	if err := env.processing.handleProcess(context.Background(), queue.Task{Payload: payload}); err != nil {
		t.Errorf("handleProcess() = %v, ожидается nil", err)
	}
	if err := env.processing.handleProcess(context.Background(), queue.Task{Payload: []byte("{")}); err == nil {
		t.Error("ожидалась ошибка разбора нагрузки")
	}
}

func TestCleanupTaskAfterSign(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", model.StatusUnsigned)

	if _, err := env.signing.Sign(context.Background(), signReq("doc-1")); err != nil {
		t.Fatalf("Sign(): %v", err)
	}
	if err := env.queue.run(t, 1); err != nil {
		t.Fatalf("очистка: %v", err)
	}
	if env.cleaner.calls.Load() != 1 {
		t.Errorf("CleanupTemp вызван %d раз, ожидается 1", env.cleaner.calls.Load())
	}
}

func TestProcessAfterSign(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-1", model.StatusUnsigned)

	if _, err := env.signing.Sign(context.Background(), signReq("doc-1")); err != nil {
		t.Fatalf("Sign(): %v", err)
	}
	if doc := env.db.document(t, "doc-1"); doc.Checksum != nil {
		t.Fatalf("Checksum = %v, ожидается сброс после замены содержимого", *doc.Checksum)
	}
	if env.queue.types()[0] != TaskDocumentProcess {
		t.Fatalf("задачи = %v, ожидается document.process первой", env.queue.types())
	}
	if err := env.queue.run(t, 0); err != nil {
		t.Fatalf("обработка документа: %v", err)
	}

	sum := sha256.Sum256(signedContent)
	doc := env.db.document(t, "doc-1")
	if doc.Checksum == nil || *doc.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum = %v, ожидается %x", doc.Checksum, sum)
	}
	if doc.Size != int64(len(signedContent)) {
		t.Errorf("Size = %d, ожидается %d", doc.Size, len(signedContent))
	}
}

func TestProcess_StaleContentDiscarded(t *testing.T) {
	env := newTestEnv(t)
	orig := env.seedDocument(t, "doc-1", model.StatusUnsigned)

	// Подписание заменяет содержимое между чтением документа и записью результата
	env.db.afterGet = func(id string) {
		if _, err := env.signing.Sign(context.Background(), signReq(id)); err != nil {
			t.Errorf("Sign(): %v", err)
		}
	}

	payload, _ := json.Marshal(processPayload{DocumentID: "doc-1"})
	if err := env.processing.handleProcess(context.Background(), queue.Task{Payload: payload}); err != nil {
		t.Fatalf("handleProcess() = %v, ожидается nil", err)
	}

	doc := env.db.document(t, "doc-1")
	if doc.StoragePath == orig.StoragePath {
		t.Fatal("содержимое должно быть заменено подписанием")
	}
	if doc.Checksum != nil {
		t.Errorf("Checksum = %v, результат по прежнему содержимому не должен записываться", *doc.Checksum)
	}
}

func TestDeadTaskSinkAndReplay(t *testing.T) {
	env := newTestEnv(t)
	sink := NewDeadTaskSink(env.store.DeadTasks)

	task := queue.Task{ID: "task-1", Type: TaskDocumentProcess, Payload: []byte(`{"documentId":"doc-1"}`), Attempts: 3}
	if err := sink.Store(context.Background(), task, errors.New("диск недоступен")); err != nil {
		t.Fatalf("Store() вернул ошибку: %v", err)
	}

	dead, total, err := env.processing.ListDeadTasks(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListDeadTasks() вернул ошибку: %v", err)
	}
	if total != 1 || len(dead) != 1 {
		t.Fatalf("total = %d, len = %d, ожидается 1", total, len(dead))
	}
	if dead[0].LastError != "диск недоступен" || dead[0].Attempts != 3 {
		t.Errorf("задача = %+v", dead[0])
	}

	replayed, err := env.processing.ReplayDeadTask(context.Background(), dead[0].ID, "operador")
	if err != nil {
		t.Fatalf("ReplayDeadTask() вернул ошибку: %v", err)
	}
	if replayed.TaskID != "task-1" {
		t.Errorf("TaskID = %q, ожидается task-1", replayed.TaskID)
	}
	if !slices.Equal(env.queue.types(), []string{TaskDocumentProcess}) {
		t.Errorf("задачи = %v, ожидается повторная document.process", env.queue.types())
	}
	if !slices.Contains(env.db.auditActions(), model.ActionTaskReplay) {
		t.Error("ожидалась запись аудита TASK_REPLAY")
	}

	if _, err := env.processing.ReplayDeadTask(context.Background(), dead[0].ID, "operador"); !errors.Is(err, ErrAlreadyReplayed) {
		t.Errorf("повторный перезапуск: %v, ожидается ErrAlreadyReplayed", err)
	}
	if _, err := env.processing.ReplayDeadTask(context.Background(), "missing", "operador"); !errors.Is(err, ErrNotFound) {
		t.Errorf("отсутствующая задача: %v, ожидается ErrNotFound", err)
	}
}

func TestReplayDeadTask_QueueStoppedRollsBack(t *testing.T) {
	env := newTestEnv(t)
	sink := NewDeadTaskSink(env.store.DeadTasks)
	_ = sink.Store(context.Background(), queue.Task{ID: "task-1", Type: TaskValidationCleanup}, errors.New("timeout"))
	dead, _, _ := env.processing.ListDeadTasks(context.Background(), 10, 0)

	env.queue.err = queue.ErrStopped
	if _, err := env.processing.ReplayDeadTask(context.Background(), dead[0].ID, "operador"); !errors.Is(err, queue.ErrStopped) {
		t.Fatalf("ReplayDeadTask() = %v, ожидается ErrStopped", err)
	}

	got, _ := env.store.DeadTasks.GetByID(context.Background(), dead[0].ID)
	if got.ReplayedAt != nil {
		t.Error("отметка о перезапуске должна быть откачена")
	}
}

func TestWatchFailures(t *testing.T) {
	env := newTestEnv(t)

	failures := make(chan *queue.Failure, 2)
	failures <- &queue.Failure{
		Task: queue.Task{ID: "task-1", Type: TaskDocumentProcess, Attempts: 3},
		Err:  errors.New("диск недоступен"),
	}
	failures <- &queue.Failure{
		Task: queue.Task{ID: "task-2", Type: TaskValidationCleanup, Attempts: 3},
		Err:  errors.New("сервис валидации недоступен"),
	}
	close(failures)

	env.processing.WatchFailures(context.Background(), failures)

	var failed int
	for _, action := range env.db.auditActions() {
		if action == model.ActionTaskFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("записей TASK_FAILED = %d, ожидается 2", failed)
	}

	// Отмена контекста завершает чтение открытого канала
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		env.processing.WatchFailures(ctx, make(chan *queue.Failure))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchFailures не завершился после отмены контекста")
	}
}
