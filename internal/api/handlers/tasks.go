// tasks.go — обработчики /api/v1/tasks/dead endpoints.
// Просмотр и повторный запуск фоновых задач, исчерпавших попытки.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docsign/signing-module/internal/api/errors"
	"github.com/bigkaa/docsign/signing-module/internal/api/middleware"
	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// deadTaskResponse — представление отказавшей задачи в API.
type deadTaskResponse struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"taskId"`
	TaskType   string          `json:"taskType"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError"`
	FailedAt   time.Time       `json:"failedAt"`
	ReplayedAt *time.Time      `json:"replayedAt"`
}

// deadTaskListResponse — страница списка отказавших задач.
type deadTaskListResponse struct {
	Items  []deadTaskResponse `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func deadTaskToResponse(t *model.DeadTask) deadTaskResponse {
	return deadTaskResponse{
		ID:         t.ID,
		TaskID:     t.TaskID,
		TaskType:   t.TaskType,
		Payload:    t.Payload,
		Attempts:   t.Attempts,
		LastError:  t.LastError,
		FailedAt:   t.FailedAt,
		ReplayedAt: t.ReplayedAt,
	}
}

// ListDeadTasks — GET /api/v1/tasks/dead?limit=&offset=.
func (h *APIHandler) ListDeadTasks(w http.ResponseWriter, r *http.Request) {
	limitParam, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit")
		return
	}
	offsetParam, err := queryInt(r, "offset")
	if err != nil {
		apierrors.ValidationError(w, "Некорректный параметр offset")
		return
	}
	limit, offset := paginationDefaults(limitParam, offsetParam)

	tasks, total, err := h.processor.ListDeadTasks(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, "ListDeadTasks", err)
		return
	}

	resp := deadTaskListResponse{
		Items:  make([]deadTaskResponse, 0, len(tasks)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, t := range tasks {
		resp.Items = append(resp.Items, deadTaskToResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReplayDeadTask — POST /api/v1/tasks/dead/{id}/replay.
// Повторно ставит задачу в очередь; повторный запуск той же записи — 409.
func (h *APIHandler) ReplayDeadTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.processor.ReplayDeadTask(r.Context(), chi.URLParam(r, "id"), middleware.CallerFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "ReplayDeadTask", err)
		return
	}
	writeJSON(w, http.StatusAccepted, deadTaskToResponse(task))
}
