package api

import (
	"net/http"

	"github.com/marmos91/dittodrive/pkg/errdefs"
)

func (h *handler) requireAuthorizer(w http.ResponseWriter, r *http.Request) bool {
	if h.authorizer == nil {
		writeErr(w, r, errdefs.ErrNotConfigured)
		return false
	}
	return true
}

func (h *handler) driveAuthorize(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuthorizer(w, r) {
		return
	}
	url, err := h.authorizer.AuthCodeURL(UserFromContext(r.Context()))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// driveCallback is the OAuth redirect target. The caller is identified by
// the signed state, not by the user header.
func (h *handler) driveCallback(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuthorizer(w, r) {
		return
	}

	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		WriteError(w, http.StatusBadRequest, CodeValidation, "authorization denied: "+reason)
		return
	}

	if q.Get("code") == "" {
		writeErr(w, r, &errdefs.ValidationError{Field: "code", Reason: "is required"})
		return
	}

	owner, err := h.authorizer.Exchange(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true, "user_id": owner})
}

func (h *handler) driveDisconnect(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuthorizer(w, r) {
		return
	}
	if err := h.authorizer.Disconnect(r.Context(), UserFromContext(r.Context())); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
