// documents.go — обработчики /api/v1/documents endpoints.
// Загрузка документа, статус подписи, история версий, подписание.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docsign/signing-module/internal/api/errors"
	"github.com/bigkaa/docsign/signing-module/internal/api/middleware"
	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
	"github.com/bigkaa/docsign/signing-module/internal/service"
)

// Ограничения multipart-запросов.
const (
	maxUploadSize   = 64 << 20
	multipartMemory = 32 << 20
)

// documentResponse — представление документа в API.
type documentResponse struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Filename        string     `json:"filename"`
	Size            int64      `json:"size"`
	MimeType        string     `json:"mimeType"`
	Checksum        *string    `json:"checksum"`
	CurrentVersion  int        `json:"currentVersion"`
	SignatureStatus string     `json:"signatureStatus"`
	LastSignedAt    *time.Time `json:"lastSignedAt"`
	LastSignedBy    *string    `json:"lastSignedBy"`
	ProcessedAt     *time.Time `json:"processedAt"`
	CreatedBy       string     `json:"createdBy"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// versionResponse — представление версии документа в API.
type versionResponse struct {
	ID                string    `json:"id"`
	VersionNumber     int       `json:"versionNumber"`
	Filename          string    `json:"filename"`
	Size              int64     `json:"size"`
	ChangeDescription string    `json:"changeDescription"`
	CreatedBy         string    `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt"`
}

// versionListResponse — история версий документа.
type versionListResponse struct {
	DocumentID string            `json:"documentId"`
	Versions   []versionResponse `json:"versions"`
}

func documentToResponse(d *model.Document) documentResponse {
	return documentResponse{
		ID:              d.ID,
		Title:           d.Title,
		Filename:        d.Filename,
		Size:            d.Size,
		MimeType:        d.MimeType,
		Checksum:        d.Checksum,
		CurrentVersion:  d.CurrentVersion,
		SignatureStatus: string(d.SignatureStatus),
		LastSignedAt:    d.LastSignedAt,
		LastSignedBy:    d.LastSignedBy,
		ProcessedAt:     d.ProcessedAt,
		CreatedBy:       d.CreatedBy,
		CreatedAt:       d.CreatedAt,
	}
}

// UploadDocument — POST /api/v1/documents.
// multipart: file (обязательно), title, createdBy (если нет JWT).
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		apierrors.ValidationError(w, "Некорректный multipart-запрос: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Файл (file) обязателен")
		return
	}
	defer file.Close()

	createdBy := callerOrForm(r, "createdBy")
	if createdBy == "" {
		apierrors.ValidationError(w, "Не указан автор документа (createdBy)")
		return
	}

	doc, err := h.processor.Ingest(r.Context(), service.UploadRequest{
		Title:     strings.TrimSpace(r.FormValue("title")),
		Filename:  header.Filename,
		CreatedBy: createdBy,
		Content:   file,
	})
	if err != nil {
		h.writeServiceError(w, r, "UploadDocument", err)
		return
	}

	writeJSON(w, http.StatusCreated, documentToResponse(doc))
}

// GetSignatureStatus — GET /api/v1/documents/{id}/signature-status.
func (h *APIHandler) GetSignatureStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.statuses.GetDocumentSignatureStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "GetSignatureStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RefreshSignatureStatus — POST /api/v1/documents/{id}/signature-status/refresh.
// Принудительный пересчёт статуса с записью в БД и кэш.
func (h *APIHandler) RefreshSignatureStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.statuses.UpdateDocumentSignatureStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "RefreshSignatureStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListDocumentVersions — GET /api/v1/documents/{id}/versions.
// Версии упорядочены по убыванию номера.
func (h *APIHandler) ListDocumentVersions(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "id")
	versions, err := h.versions.History(r.Context(), documentID)
	if err != nil {
		h.writeServiceError(w, r, "ListDocumentVersions", err)
		return
	}

	resp := versionListResponse{
		DocumentID: documentID,
		Versions:   make([]versionResponse, 0, len(versions)),
	}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, versionResponse{
			ID:                v.ID,
			VersionNumber:     v.VersionNumber,
			Filename:          v.Filename,
			Size:              v.Size,
			ChangeDescription: v.ChangeDescription,
			CreatedBy:         v.CreatedBy,
			CreatedAt:         v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// SignDocument — POST /api/v1/documents/{id}/sign.
// multipart: signed (обязательно), original (для отделённой подписи),
// extension, signerId (если нет JWT).
func (h *APIHandler) SignDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		apierrors.ValidationError(w, "Некорректный multipart-запрос: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	signed, filename, err := readFormFile(r, "signed")
	if err != nil {
		apierrors.ValidationError(w, "Подписанный файл (signed) обязателен")
		return
	}
	if len(signed) == 0 {
		apierrors.ValidationError(w, "Подписанный файл (signed) пуст")
		return
	}

	original, _, err := readFormFile(r, "original")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		apierrors.ValidationError(w, "Некорректный исходный файл (original): "+err.Error())
		return
	}

	signerID := callerOrForm(r, "signerId")
	if signerID == "" {
		apierrors.ValidationError(w, "Не указан подписант (signerId)")
		return
	}

	extension := strings.TrimSpace(r.FormValue("extension"))
	if extension == "" {
		extension = extensionOf(filename)
	}
	if extension == "" {
		apierrors.ValidationError(w, "Не указано расширение подписанного файла (extension)")
		return
	}

	res, err := h.signer.Sign(r.Context(), service.SignRequest{
		DocumentID: chi.URLParam(r, "id"),
		SignerID:   signerID,
		Extension:  extension,
		Filename:   filename,
		Content:    signed,
		Original:   original,
	})
	if err != nil {
		h.writeServiceError(w, r, "SignDocument", err)
		return
	}

	if !res.Succeeded() {
		h.logger.InfoContext(r.Context(), "Подписание отклонено",
			slog.String("document_id", res.DocumentID),
			slog.String("code", res.Code),
		)
		apierrors.WriteError(w, signFailureStatus(res.Code), res.Code, res.Error)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// signFailureStatus сопоставляет код отказа подписания с HTTP статусом.
func signFailureStatus(code string) int {
	switch code {
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeAlreadySigned:
		return http.StatusConflict
	case service.CodeServiceUnavailable, service.CodeValidationTransportError:
		return http.StatusBadGateway
	case service.CodeRemoteValidationError, service.CodeNoSignaturesFound:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// readFormFile читает файл multipart-формы целиком.
func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

// callerOrForm возвращает вызывающего из JWT, иначе значение поля формы.
func callerOrForm(r *http.Request, field string) string {
	if caller := middleware.CallerFromContext(r.Context()); caller != "" {
		return caller
	}
	return strings.TrimSpace(r.FormValue(field))
}

// extensionOf возвращает расширение имени файла без точки в нижнем регистре.
func extensionOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}
