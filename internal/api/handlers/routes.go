// routes.go — таблица маршрутов API Signing Module.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ServerInterface — набор HTTP-операций Signing Module.
type ServerInterface interface {
	HealthLive(w http.ResponseWriter, r *http.Request)
	HealthReady(w http.ResponseWriter, r *http.Request)
	GetMetrics(w http.ResponseWriter, r *http.Request)

	UploadDocument(w http.ResponseWriter, r *http.Request)
	GetSignatureStatus(w http.ResponseWriter, r *http.Request)
	RefreshSignatureStatus(w http.ResponseWriter, r *http.Request)
	ListDocumentVersions(w http.ResponseWriter, r *http.Request)
	SignDocument(w http.ResponseWriter, r *http.Request)

	SignBatch(w http.ResponseWriter, r *http.Request)
	RevertSignature(w http.ResponseWriter, r *http.Request)

	GetValidationInfo(w http.ResponseWriter, r *http.Request)

	ListDeadTasks(w http.ResponseWriter, r *http.Request)
	ReplayDeadTask(w http.ResponseWriter, r *http.Request)
}

// HandlerFromMux регистрирует все маршруты si на router.
func HandlerFromMux(si ServerInterface, r chi.Router) chi.Router {
	r.Get("/health/live", si.HealthLive)
	r.Get("/health/ready", si.HealthReady)
	r.Get("/metrics", si.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", si.UploadDocument)
		r.Get("/documents/{id}/signature-status", si.GetSignatureStatus)
		r.Post("/documents/{id}/signature-status/refresh", si.RefreshSignatureStatus)
		r.Get("/documents/{id}/versions", si.ListDocumentVersions)
		r.Post("/documents/{id}/sign", si.SignDocument)

		r.Post("/signatures/batch", si.SignBatch)
		r.Post("/signatures/{id}/revert", si.RevertSignature)

		r.Get("/validation/info", si.GetValidationInfo)

		r.Get("/tasks/dead", si.ListDeadTasks)
		r.Post("/tasks/dead/{id}/replay", si.ReplayDeadTask)
	})

	return r
}
