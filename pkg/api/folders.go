package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

func (h *handler) getItems(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 0, 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	size, err := intParam(r, "size", 0, 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	items, err := h.orch.GetItems(r.Context(), UserFromContext(r.Context()),
		optionalString(r.URL.Query().Get("folder_id")),
		metadata.Page{Number: page, Size: size})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

func (h *handler) createFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidation, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	folder, err := h.orch.CreateFolder(r.Context(), UserFromContext(r.Context()), req.Name, req.ParentID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (h *handler) deleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.DeleteFolder(r.Context(), chi.URLParam(r, "id"), UserFromContext(r.Context())); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// storageUsage is the GET /v1/storage response. Used counts every backend;
// Quota applies to uploads outside the personal drive.
type storageUsage struct {
	Used      int64 `json:"used"`
	Quota     int64 `json:"quota"`
	Remaining int64 `json:"remaining"`
}

func (h *handler) storageUsage(w http.ResponseWriter, r *http.Request) {
	used, err := h.orch.GetUserStorageSize(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	quota := h.orch.LocalQuota()
	writeJSON(w, http.StatusOK, storageUsage{
		Used:      used,
		Quota:     quota,
		Remaining: max(quota-used, 0),
	})
}

func (h *handler) backendStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Backends().Status(r.Context(), UserFromContext(r.Context())))
}
