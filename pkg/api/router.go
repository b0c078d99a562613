// Package api exposes the storage orchestrator over HTTP.
//
// Routes:
//
//	GET    /healthz                 metadata gateway health
//	GET    /blobs/*                 signed blob downloads
//	GET    /v1/drive/callback       OAuth redirect target (owner comes from state)
//
//	All routes below require the X-User-ID header and are rate limited
//	per user when a limiter is configured:
//
//	POST   /v1/files                multipart upload (file, folder_id, prefer_drive)
//	GET    /v1/files/{id}           file metadata with a fresh download URL
//	PATCH  /v1/files/{id}           rename and/or move
//	DELETE /v1/files/{id}
//	GET    /v1/files/{id}/thumbnail ?w=&h=
//	GET    /v1/items                ?folder_id=&page=&size=
//	POST   /v1/folders
//	DELETE /v1/folders/{id}
//	GET    /v1/storage              usage and local quota
//	GET    /v1/backends             per-backend configured/connected status
//	GET    /v1/drive/authorize      consent URL
//	DELETE /v1/drive                forget the drive grant
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/backend/blob"
	"github.com/marmos91/dittodrive/pkg/backend/drive"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/orchestrator"
)

// DefaultMaxUploadBytes caps request bodies on POST /v1/files.
const DefaultMaxUploadBytes int64 = 1 << 30

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// Config holds the handler dependencies. Orchestrator is required.
type Config struct {
	Orchestrator *orchestrator.Orchestrator

	// Blob enables /blobs. Nil leaves the route unmounted.
	Blob *blob.Backend

	// Authorizer enables the drive consent routes. Nil answers 503.
	Authorizer *drive.Authorizer

	// Metrics instruments every request. Nil disables instrumentation.
	Metrics *metrics.HTTPMiddleware

	// RateLimiter throttles authenticated routes per user. Nil disables it.
	RateLimiter *ratelimiter.Limiter

	MaxUploadBytes int64
}

type handler struct {
	orch           *orchestrator.Orchestrator
	authorizer     *drive.Authorizer
	maxUploadBytes int64
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	h := &handler{
		orch:           cfg.Orchestrator,
		authorizer:     cfg.Authorizer,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = DefaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Handler)

	r.Get("/healthz", h.healthz)

	if cfg.Blob != nil {
		r.Mount("/blobs", http.StripPrefix("/blobs", blob.NewHandler(cfg.Blob)))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/drive/callback", h.driveCallback)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)
			r.Use(RateLimit(cfg.RateLimiter))

			r.Post("/files", h.uploadFile)
			r.Route("/files/{id}", func(r chi.Router) {
				r.Get("/", h.getFile)
				r.Patch("/", h.updateFile)
				r.Delete("/", h.deleteFile)
				r.Get("/thumbnail", h.thumbnail)
			})

			r.Get("/items", h.getItems)
			r.Post("/folders", h.createFolder)
			r.Delete("/folders/{id}", h.deleteFolder)

			r.Get("/storage", h.storageUsage)
			r.Get("/backends", h.backendStatus)

			r.Get("/drive/authorize", h.driveAuthorize)
			r.Delete("/drive", h.driveDisconnect)
		})
	})

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Gateway().Healthcheck(r.Context()); err != nil {
		WriteError(w, http.StatusServiceUnavailable, CodeInternal, "metadata store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
