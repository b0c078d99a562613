package blob

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
)

// Handler serves objects to holders of a valid signed URL.
//
// Mount it under the signer's base URL path with the prefix stripped:
//
//	r.Mount("/blobs", http.StripPrefix("/blobs", blob.NewHandler(b)))
type Handler struct {
	backend *Backend
}

// NewHandler returns the download handler for b.
func NewHandler(b *Backend) *Handler {
	return &Handler{backend: b}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	token := r.URL.Query().Get("token")
	if key == "" || token == "" {
		http.Error(w, "missing object or token", http.StatusBadRequest)
		return
	}

	if err := h.backend.signer.Verify(token, key); err != nil {
		logger.Debug("Blob: rejected download of %s: %v", key, err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	content, meta, err := h.backend.Open(r.Context(), key)
	if errors.Is(err, ErrObjectNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logger.Error("Blob: read %s: %v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(h.backend.signer.expiry/time.Second)))
	http.ServeContent(w, r, path.Base(key), meta.CreatedAt, content)
}
