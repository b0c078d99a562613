package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend/drive"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeQuotaExceeded   = "QUOTA_EXCEEDED"
	CodeTooLarge        = "FILE_TOO_LARGE"
	CodeNotConfigured   = "BACKEND_NOT_CONFIGURED"
	CodeNotConnected    = "BACKEND_NOT_CONNECTED"
	CodeUploadFailed    = "UPLOAD_FAILED"
	CodeDeleteFailed    = "STORAGE_DELETE_FAILED"
	CodeFinalization    = "FINALIZATION_FAILED"
	CodeInconsistent    = "INCONSISTENT"
	CodeInvalidState    = "INVALID_STATE"
	CodeRequestCanceled = "REQUEST_CANCELED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeFolderNotEmpty  = "FOLDER_NOT_EMPTY"
	CodeInternal        = "INTERNAL_ERROR"
)

// statusClientClosedRequest is the de-facto status for requests the
// client abandoned.
const statusClientClosedRequest = 499

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes {"error": {"code": ..., "message": ...}}.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// classify maps an error to its HTTP status and code.
func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError

	switch {
	// Finalization and inconsistency wrap their cause, so they are checked
	// before the classes they may contain.
	case errors.Is(err, errdefs.ErrFinalization):
		return http.StatusInternalServerError, CodeFinalization
	case errors.Is(err, errdefs.ErrInconsistent):
		return http.StatusInternalServerError, CodeInconsistent
	case errors.Is(err, errdefs.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, errdefs.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, errdefs.ErrQuotaExceeded):
		return http.StatusInsufficientStorage, CodeQuotaExceeded
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, CodeTooLarge
	case errors.Is(err, errdefs.ErrNotConnected):
		return http.StatusConflict, CodeNotConnected
	case errors.Is(err, errdefs.ErrFolderNotEmpty):
		return http.StatusConflict, CodeFolderNotEmpty
	case errors.Is(err, errdefs.ErrNotConfigured):
		return http.StatusServiceUnavailable, CodeNotConfigured
	case errors.Is(err, drive.ErrInvalidState):
		return http.StatusBadRequest, CodeInvalidState
	case errors.Is(err, errdefs.ErrUpload):
		return http.StatusBadGateway, CodeUploadFailed
	case errors.Is(err, errdefs.ErrStorageDelete):
		return http.StatusBadGateway, CodeDeleteFailed
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, CodeRequestCanceled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeErr maps err and writes it. Server-side failures are logged; their
// message is replaced unless it belongs to the storage taxonomy.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("API: %s %s: %v", r.Method, r.URL.Path, err)
		if code == CodeInternal {
			message = "internal error"
		}
	}
	WriteError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("API: failed to encode response: %v", err)
	}
}
