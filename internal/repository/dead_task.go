package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// DeadTaskRepository — доступ к таблице dead_tasks.
type DeadTaskRepository interface {
	// Create сохраняет задачу, исчерпавшую попытки.
	Create(ctx context.Context, t *model.DeadTask) error
	// GetByID возвращает задачу по UUID.
	GetByID(ctx context.Context, id string) (*model.DeadTask, error)
	// List возвращает задачи от новых к старым.
	List(ctx context.Context, limit, offset int) ([]*model.DeadTask, error)
	// Count возвращает общее количество задач.
	Count(ctx context.Context) (int, error)
	// MarkReplayed фиксирует повторную постановку в очередь.
	// Уже перезапущенная задача — ErrConflict.
	MarkReplayed(ctx context.Context, id string, at time.Time) error
}

const deadTaskColumns = `id, task_id, task_type, payload, attempts, last_error, failed_at, replayed_at`

type deadTaskRepo struct {
	db DBTX
}

// NewDeadTaskRepository создаёт репозиторий неисполненных задач.
func NewDeadTaskRepository(db DBTX) DeadTaskRepository {
	return &deadTaskRepo{db: db}
}

func scanDeadTask(row rowScanner) (*model.DeadTask, error) {
	t := &model.DeadTask{}
	err := row.Scan(&t.ID, &t.TaskID, &t.TaskType, &t.Payload, &t.Attempts, &t.LastError, &t.FailedAt, &t.ReplayedAt)
	return t, err
}

func (r *deadTaskRepo) Create(ctx context.Context, t *model.DeadTask) error {
	query := `
		INSERT INTO dead_tasks (id, task_id, task_type, payload, attempts, last_error, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	payload := t.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := r.db.Exec(ctx, query, t.ID, t.TaskID, t.TaskType, string(payload), t.Attempts, t.LastError, t.FailedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: задача с таким ID уже сохранена", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения неисполненной задачи: %w", err)
	}
	return nil
}

func (r *deadTaskRepo) GetByID(ctx context.Context, id string) (*model.DeadTask, error) {
	t, err := scanDeadTask(r.db.QueryRow(ctx, `SELECT `+deadTaskColumns+` FROM dead_tasks WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения неисполненной задачи: %w", err)
	}
	return t, nil
}

func (r *deadTaskRepo) List(ctx context.Context, limit, offset int) ([]*model.DeadTask, error) {
	query := `SELECT ` + deadTaskColumns + `
		FROM dead_tasks
		ORDER BY failed_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка неисполненных задач: %w", err)
	}
	defer rows.Close()

	result := []*model.DeadTask{}
	for rows.Next() {
		t, err := scanDeadTask(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования неисполненной задачи: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *deadTaskRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM dead_tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта неисполненных задач: %w", err)
	}
	return count, nil
}

func (r *deadTaskRepo) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dead_tasks SET replayed_at = $2 WHERE id = $1 AND replayed_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки повторного запуска: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: задача уже перезапущена", ErrConflict)
	}
	return nil
}
