// validation_info.go — обработчик GET /api/v1/validation/info.
package handlers

import "net/http"

// GetValidationInfo — метаданные внешнего сервиса валидации.
func (h *APIHandler) GetValidationInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.validation.ServiceInfo(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "GetValidationInfo", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
