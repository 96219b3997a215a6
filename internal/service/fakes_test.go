package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/queue"
	"github.com/bigkaa/docsign/signing-module/internal/repository"
	"github.com/bigkaa/docsign/signing-module/internal/storage/filestore"
	"github.com/bigkaa/docsign/signing-module/internal/validation"
)

// testLogger — логгер для тестов (только ошибки).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- In-memory хранилище ---

// fakeDB — in-memory замена PostgreSQL. InTx сериализует транзакции
// (аналог блокировки строки документа) и откатывает состояние при ошибке.
type fakeDB struct {
	txMu sync.Mutex

	mu         sync.Mutex
	documents  map[string]model.Document
	versions   []model.DocumentVersion
	signatures map[string]model.Signature
	flows      []model.SignatureFlow
	audit      []model.AuditEntry
	dead       map[string]model.DeadTask

	// Внедрение ошибок
	signatureCreateErr error
	auditErr           error

	// afterGet однократно вызывается после чтения документа
	afterGet func(id string)
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		documents:  map[string]model.Document{},
		signatures: map[string]model.Signature{},
		dead:       map[string]model.DeadTask{},
	}
}

func (db *fakeDB) store() *repository.Store {
	return &repository.Store{
		Documents:  &fakeDocuments{db: db},
		Versions:   &fakeVersions{db: db},
		Signatures: &fakeSignatures{db: db},
		Flows:      &fakeFlows{db: db},
		Audit:      &fakeAudit{db: db},
		DeadTasks:  &fakeDeadTasks{db: db},
	}
}

// InTx реализует Transactor.
func (db *fakeDB) InTx(_ context.Context, fn func(store *repository.Store) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	docs := maps.Clone(db.documents)
	versions := slices.Clone(db.versions)
	sigs := maps.Clone(db.signatures)
	dead := maps.Clone(db.dead)
	db.mu.Unlock()

	if err := fn(db.store()); err != nil {
		db.mu.Lock()
		db.documents, db.versions, db.signatures, db.dead = docs, versions, sigs, dead
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *fakeDB) auditActions() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	actions := make([]string, 0, len(db.audit))
	for _, e := range db.audit {
		actions = append(actions, e.Action)
	}
	return actions
}

func (db *fakeDB) document(t *testing.T, id string) model.Document {
	t.Helper()
	db.mu.Lock()
	defer db.mu.Unlock()
	d, ok := db.documents[id]
	if !ok {
		t.Fatalf("документ %s отсутствует", id)
	}
	return d
}

type fakeDocuments struct{ db *fakeDB }

func (r *fakeDocuments) Create(_ context.Context, d *model.Document) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.documents[d.ID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	r.db.documents[d.ID] = *d
	return nil
}

func (r *fakeDocuments) GetByID(_ context.Context, id string) (*model.Document, error) {
	r.db.mu.Lock()
	d, ok := r.db.documents[id]
	hook := r.db.afterGet
	r.db.afterGet = nil
	r.db.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	if hook != nil {
		hook(id)
	}
	return &d, nil
}

func (r *fakeDocuments) GetForUpdate(ctx context.Context, id string) (*model.Document, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeDocuments) ReplaceContent(_ context.Context, d *model.Document) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.documents[d.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.StoragePath, cur.Filename, cur.Size, cur.MimeType = d.StoragePath, d.Filename, d.Size, d.MimeType
	cur.Checksum = nil
	cur.CurrentVersion = d.CurrentVersion
	cur.LastSignedAt, cur.LastSignedBy = d.LastSignedAt, d.LastSignedBy
	r.db.documents[d.ID] = cur
	return nil
}

func (r *fakeDocuments) UpdateSignatureStatus(_ context.Context, id string, st model.SignatureStatus, at *time.Time, by *string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.documents[id]
	if !ok {
		return repository.ErrNotFound
	}
	cur.SignatureStatus, cur.LastSignedAt, cur.LastSignedBy = st, at, by
	r.db.documents[id] = cur
	return nil
}

func (r *fakeDocuments) MarkProcessed(_ context.Context, id, storagePath, checksum, mimeType string, size int64, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.documents[id]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.StoragePath != storagePath {
		return repository.ErrConflict
	}
	cur.Checksum, cur.MimeType, cur.Size, cur.ProcessedAt = &checksum, mimeType, size, &at
	r.db.documents[id] = cur
	return nil
}

type fakeVersions struct{ db *fakeDB }

func (r *fakeVersions) Create(_ context.Context, v *model.DocumentVersion) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.versions {
		if existing.DocumentID == v.DocumentID && existing.VersionNumber == v.VersionNumber {
			return repository.ErrConflict
		}
	}
	v.CreatedAt = time.Now().UTC()
	r.db.versions = append(r.db.versions, *v)
	return nil
}

func (r *fakeVersions) ListByDocument(_ context.Context, documentID string) ([]*model.DocumentVersion, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.DocumentVersion
	for _, v := range r.db.versions {
		if v.DocumentID == documentID {
			out = append(out, &v)
		}
	}
	slices.SortFunc(out, func(a, b *model.DocumentVersion) int { return b.VersionNumber - a.VersionNumber })
	return out, nil
}

type fakeSignatures struct{ db *fakeDB }

func (r *fakeSignatures) Create(_ context.Context, s *model.Signature) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.signatureCreateErr != nil {
		return r.db.signatureCreateErr
	}
	r.db.signatures[s.ID] = *s
	return nil
}

func (r *fakeSignatures) GetByID(_ context.Context, id string) (*model.Signature, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.signatures[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *fakeSignatures) ListByDocument(_ context.Context, documentID string) ([]model.Signature, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.Signature
	for _, s := range r.db.signatures {
		if s.DocumentID == documentID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b model.Signature) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *fakeSignatures) Revert(_ context.Context, id, by, reason string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.signatures[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.IsReverted {
		return repository.ErrConflict
	}
	s.IsReverted, s.RevertedAt, s.RevertedBy, s.RevertReason = true, &at, &by, &reason
	r.db.signatures[id] = s
	return nil
}

type fakeFlows struct{ db *fakeDB }

func (r *fakeFlows) ListActiveByDocument(_ context.Context, documentID string) ([]model.SignatureFlow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.SignatureFlow
	for _, f := range r.db.flows {
		if f.DocumentID == documentID && !f.Status.Terminated() {
			out = append(out, f)
		}
	}
	return out, nil
}

type fakeAudit struct{ db *fakeDB }

func (r *fakeAudit) Insert(_ context.Context, e *model.AuditEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.auditErr != nil {
		return r.db.auditErr
	}
	e.ID = int64(len(r.db.audit) + 1)
	e.CreatedAt = time.Now().UTC()
	r.db.audit = append(r.db.audit, *e)
	return nil
}

func (r *fakeAudit) ListByEntity(_ context.Context, entityType, entityID string, limit int) ([]*model.AuditEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.AuditEntry
	for i := len(r.db.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.db.audit[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, &e)
		}
	}
	return out, nil
}

type fakeDeadTasks struct{ db *fakeDB }

func (r *fakeDeadTasks) Create(_ context.Context, t *model.DeadTask) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.dead[t.ID] = *t
	return nil
}

func (r *fakeDeadTasks) GetByID(_ context.Context, id string) (*model.DeadTask, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.dead[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *fakeDeadTasks) List(_ context.Context, limit, offset int) ([]*model.DeadTask, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	all := slices.Collect(maps.Values(r.db.dead))
	slices.SortFunc(all, func(a, b model.DeadTask) int { return strings.Compare(a.ID, b.ID) })
	var out []*model.DeadTask
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, &all[i])
	}
	return out, nil
}

func (r *fakeDeadTasks) Count(_ context.Context) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.dead), nil
}

func (r *fakeDeadTasks) MarkReplayed(_ context.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.dead[id]
	if !ok {
		return repository.ErrNotFound
	}
	if t.ReplayedAt != nil {
		return repository.ErrConflict
	}
	t.ReplayedAt = &at
	r.db.dead[id] = t
	return nil
}

// --- Внешние зависимости ---

// fakeValidator — управляемая замена сервиса валидации.
type fakeValidator struct {
	calls atomic.Int32
	fn    func(content []byte) (*validation.Result, error)
}

func (v *fakeValidator) ValidateSignature(_ context.Context, content []byte, _ string, _ []byte) (*validation.Result, error) {
	v.calls.Add(1)
	if v.fn != nil {
		return v.fn(content)
	}
	return validResult("Juan Pérez"), nil
}

// validResult — успешный отчёт валидации с одной подписью.
func validResult(signer string) *validation.Result {
	signed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &validation.Result{
		Result:            "VÁLIDO",
		Signatures:        1,
		ValidSignatures:   1,
		Integrity:         true,
		TrustedSignatures: 1,
		ListSignatures: []validation.SignatureEntry{{
			SignerName:   signer,
			Algorithm:    "SHA256withRSA",
			SerialNumber: "0A1B",
			Status:       "VÁLIDO",
			Valid:        true,
			SigningTime:  &signed,
			Certificate:  validation.Certificate{Trusted: true},
		}},
	}
}

// fakeQueue — запись поставленных задач без выполнения.
type fakeQueue struct {
	mu       sync.Mutex
	tasks    []queue.Task
	handlers map[string]queue.Handler
	err      error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: map[string]queue.Handler{}}
}

func (q *fakeQueue) Enqueue(taskType string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("%s-%d", taskType, len(q.tasks)+1)
	q.tasks = append(q.tasks, queue.Task{ID: id, Type: taskType, Payload: raw})
	return id, nil
}

func (q *fakeQueue) Register(taskType string, h queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

func (q *fakeQueue) Requeue(task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.Type)
	}
	return out
}

// run выполняет поставленную задачу зарегистрированным обработчиком.
func (q *fakeQueue) run(t *testing.T, i int) error {
	t.Helper()
	q.mu.Lock()
	task := q.tasks[i]
	h, ok := q.handlers[task.Type]
	q.mu.Unlock()
	if !ok {
		t.Fatalf("обработчик для %s не зарегистрирован", task.Type)
	}
	return h(context.Background(), task)
}

type fakeCleaner struct{ calls atomic.Int32 }

func (c *fakeCleaner) CleanupTemp(context.Context) error {
	c.calls.Add(1)
	return nil
}

// --- Сборка сервисов ---

type testEnv struct {
	db         *fakeDB
	store      *repository.Store
	files      *filestore.FileStore
	dir        string
	validator  *fakeValidator
	queue      *fakeQueue
	cleaner    *fakeCleaner
	cache      *StatusCache
	audit      *AuditLogger
	status     *StatusService
	ledger     *VersionLedger
	signing    *SigningService
	processing *ProcessingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	files, err := filestore.New(dir)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}

	env := &testEnv{
		db:        newFakeDB(),
		files:     files,
		dir:       dir,
		validator: &fakeValidator{},
		queue:     newFakeQueue(),
		cleaner:   &fakeCleaner{},
		cache:     NewStatusCache(100, time.Minute),
	}
	env.store = env.db.store()
	env.audit = NewAuditLogger(env.store.Audit, testLogger())
	env.status = NewStatusService(env.store, env.db, env.cache, env.audit, testLogger())
	env.ledger = NewVersionLedger(env.store)
	env.signing = NewSigningService(env.store, env.db, files, env.validator, env.ledger,
		env.status, env.audit, env.queue, 4, testLogger())
	env.processing = NewProcessingService(env.store, env.db, files, env.cleaner, env.queue, env.audit, testLogger())
	return env
}

// seedDocument создаёт документ с сохранённым содержимым.
func (env *testEnv) seedDocument(t *testing.T, id string, st model.SignatureStatus) model.Document {
	t.Helper()
	saved, err := env.files.SaveBytes([]byte("%PDF-1.7 original "+id), "original.pdf", "registrador")
	if err != nil {
		t.Fatalf("SaveBytes: %v", err)
	}
	doc := model.Document{
		ID:              id,
		Title:           "Resolución " + id,
		StoragePath:     saved.StoragePath,
		Filename:        "original.pdf",
		Size:            saved.Size,
		MimeType:        saved.MimeType,
		CurrentVersion:  1,
		SignatureStatus: st,
		CreatedBy:       "registrador",
	}
	if err := env.store.Documents.Create(context.Background(), &doc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return doc
}

// storedFiles возвращает число файлов в хранилище.
func (env *testEnv) storedFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(env.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	return len(entries)
}

var errInjected = errors.New("соединение с БД потеряно")
