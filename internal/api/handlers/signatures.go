// signatures.go — обработчики /api/v1/signatures endpoints.
// Пакетное подписание и отзыв подписи.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docsign/signing-module/internal/api/errors"
	"github.com/bigkaa/docsign/signing-module/internal/api/middleware"
	"github.com/bigkaa/docsign/signing-module/internal/service"
)

// maxBatchItems — максимальное число документов в пакетном запросе.
const maxBatchItems = 100

// batchSignRequest — тело POST /api/v1/signatures/batch.
// Содержимое передаётся в base64 ([]byte в encoding/json).
type batchSignRequest struct {
	SignerID string          `json:"signerId"`
	Items    []batchSignItem `json:"items"`
}

type batchSignItem struct {
	DocumentID string `json:"documentId"`
	Extension  string `json:"extension"`
	Filename   string `json:"filename"`
	Content    []byte `json:"content"`
	Original   []byte `json:"original,omitempty"`
}

// revertRequest — тело POST /api/v1/signatures/{id}/revert.
type revertRequest struct {
	Reason string `json:"reason"`
	// UserID — инициатор отзыва, если запрос без JWT
	UserID string `json:"userId"`
}

// SignBatch — POST /api/v1/signatures/batch.
// Всегда 200: отказы по отдельным документам возвращаются в results.
func (h *APIHandler) SignBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var req batchSignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	signerID := middleware.CallerFromContext(r.Context())
	if signerID == "" {
		signerID = strings.TrimSpace(req.SignerID)
	}
	if signerID == "" {
		apierrors.ValidationError(w, "Не указан подписант (signerId)")
		return
	}
	if len(req.Items) > maxBatchItems {
		apierrors.ValidationError(w, fmt.Sprintf("Слишком много документов в пакете: %d (максимум %d)", len(req.Items), maxBatchItems))
		return
	}

	items := make([]service.BatchItem, 0, len(req.Items))
	for i, it := range req.Items {
		if it.DocumentID == "" {
			apierrors.ValidationError(w, fmt.Sprintf("items[%d]: documentId обязателен", i))
			return
		}
		if len(it.Content) == 0 {
			apierrors.ValidationError(w, fmt.Sprintf("items[%d]: content обязателен", i))
			return
		}
		ext := strings.TrimSpace(it.Extension)
		if ext == "" {
			ext = extensionOf(it.Filename)
		}
		if ext == "" {
			apierrors.ValidationError(w, fmt.Sprintf("items[%d]: extension обязателен", i))
			return
		}
		items = append(items, service.BatchItem{
			DocumentID: it.DocumentID,
			Extension:  ext,
			Filename:   it.Filename,
			Content:    it.Content,
			Original:   it.Original,
		})
	}

	writeJSON(w, http.StatusOK, h.signer.SignMultiple(r.Context(), items, signerID))
}

// RevertSignature — POST /api/v1/signatures/{id}/revert.
// Возвращает пересчитанный статус подписи документа.
func (h *APIHandler) RevertSignature(w http.ResponseWriter, r *http.Request) {
	var req revertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	userID := middleware.CallerFromContext(r.Context())
	if userID == "" {
		userID = strings.TrimSpace(req.UserID)
	}
	if userID == "" {
		apierrors.ValidationError(w, "Не указан инициатор отзыва (userId)")
		return
	}

	st, err := h.signer.RevertSignature(r.Context(), chi.URLParam(r, "id"), userID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeServiceError(w, r, "RevertSignature", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
