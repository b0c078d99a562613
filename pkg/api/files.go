package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/orchestrator"
)

// Default thumbnail box when w or h is omitted.
const (
	defaultThumbnailWidth  = 200
	defaultThumbnailHeight = 200
)

// uploadFile handles POST /v1/files.
// Multipart form: file (required), folder_id (optional), prefer_drive (optional bool).
func (h *handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeErr(w, r, err)
			return
		}
		WriteError(w, http.StatusBadRequest, CodeValidation, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidation, "field 'file' is required")
		return
	}
	defer file.Close()

	opts := orchestrator.UploadOptions{FolderID: optionalString(r.FormValue("folder_id"))}
	if v := r.FormValue("prefer_drive"); v != "" {
		prefer, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(w, r, &errdefs.ValidationError{Field: "prefer_drive", Value: v, Reason: "must be a boolean"})
			return
		}
		opts.PreferDrive = prefer
	}

	record, err := h.orch.UploadFile(r.Context(), user, &backend.File{
		Name:     header.Filename,
		Size:     header.Size,
		MimeType: detectMimeType(header.Header.Get("Content-Type"), header.Filename),
		Content:  file,
	}, opts)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// detectMimeType prefers the part's declared type, then the extension.
func detectMimeType(declared, name string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// ownedFile fetches the {id} file of the caller. Absent and foreign files
// are both NotFound.
func (h *handler) ownedFile(r *http.Request) (*metadata.FileRecord, error) {
	id := chi.URLParam(r, "id")
	record, err := h.orch.GetFileMetadata(r.Context(), id, UserFromContext(r.Context()))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &errdefs.NotFoundError{Kind: "file", ID: id}
	}
	return record, nil
}

func (h *handler) getFile(w http.ResponseWriter, r *http.Request) {
	record, err := h.ownedFile(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// updateFileRequest is the PATCH /v1/files/{id} body. FolderID moves the
// file; MoveToRoot moves it to the root.
type updateFileRequest struct {
	Name       *string `json:"name"`
	FolderID   *string `json:"folder_id"`
	MoveToRoot bool    `json:"move_to_root"`
}

func (h *handler) updateFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, user := chi.URLParam(r, "id"), UserFromContext(ctx)

	var req updateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidation, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Name == nil && req.FolderID == nil && !req.MoveToRoot {
		writeErr(w, r, &errdefs.ValidationError{Reason: "nothing to update: set name, folder_id or move_to_root"})
		return
	}
	if req.FolderID != nil && req.MoveToRoot {
		writeErr(w, r, &errdefs.ValidationError{Field: "folder_id", Reason: "cannot be combined with move_to_root"})
		return
	}

	if req.Name != nil {
		if err := h.orch.RenameFile(ctx, id, user, *req.Name); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	if req.FolderID != nil || req.MoveToRoot {
		if err := h.orch.MoveFile(ctx, id, user, req.FolderID); err != nil {
			writeErr(w, r, err)
			return
		}
	}

	h.getFile(w, r)
}

func (h *handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.DeleteFile(r.Context(), chi.URLParam(r, "id"), UserFromContext(r.Context())); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) thumbnail(w http.ResponseWriter, r *http.Request) {
	width, err := intParam(r, "w", defaultThumbnailWidth, 1)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	height, err := intParam(r, "h", defaultThumbnailHeight, 1)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	record, err := h.ownedFile(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.orch.ThumbnailURL(record, width, height)})
}

// intParam reads a query integer, returning def when it is absent.
func intParam(r *http.Request, name string, def, min int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return 0, &errdefs.ValidationError{Field: name, Value: raw, Reason: fmt.Sprintf("must be an integer >= %d", min)}
	}
	return v, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
