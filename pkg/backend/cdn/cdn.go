// Package cdn implements the media-CDN backend against a Cloudinary-compatible
// REST API.
//
// Uploads are unsigned (authorised by an upload preset) and go straight to
// the CDN. Deletes need the account secret, so they are routed through a
// delete proxy (see ProxyHandler) that signs the destroy call server side.
package cdn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

// DefaultAPIBaseURL is the public Cloudinary API root.
const DefaultAPIBaseURL = "https://api.cloudinary.com/v1_1"

// Resource types understood by the CDN.
const (
	ResourceImage = "image"
	ResourceVideo = "video"
	ResourceRaw   = "raw"
	ResourceAuto  = "auto"
)

// Config contains configuration for the CDN backend.
type Config struct {
	CloudName    string
	UploadPreset string

	// DeleteProxyURL is the endpoint accepting {publicId, resourceType}.
	DeleteProxyURL string

	// DeleteProxyToken is sent as a Bearer token to the proxy when set.
	DeleteProxyToken string

	// APIBaseURL overrides DefaultAPIBaseURL.
	APIBaseURL string

	// HTTPClient defaults to a client with a 10 minute timeout.
	HTTPClient *http.Client
}

// Backend uploads media to the CDN.
//
// Object Layout:
//   - folder "users/{ownerID}", tag "user_{ownerID}"
//   - documents are uploaded as resource type "raw", everything else "auto"
//   - the object path is the CDN public ID
//
// Thread Safety: Safe for concurrent use.
type Backend struct {
	cfg    Config
	client *http.Client
}

// New creates a CDN backend. Missing settings yield an unconfigured backend.
func New(cfg Config) *Backend {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Backend{cfg: cfg, client: client}
}

func (b *Backend) Type() backend.StorageType { return backend.StorageTypeCDN }

func (b *Backend) IsConfigured() bool {
	return b.cfg.CloudName != "" && b.cfg.UploadPreset != ""
}

type uploadResponse struct {
	PublicID     string `json:"public_id"`
	SecureURL    string `json:"secure_url"`
	ResourceType string `json:"resource_type"`
	Format       string `json:"format"`
	Bytes        int64  `json:"bytes"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload streams the file to the CDN as a multipart form.
func (b *Backend) Upload(ctx context.Context, file *backend.File, ownerID string, progress backend.ProgressFunc) (*backend.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.IsConfigured() {
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Permanent: true, Err: errdefs.ErrNotConfigured}
	}

	resourceType := ResourceAuto
	if isDocument(file.MimeType, file.Name) {
		resourceType = ResourceRaw
	}

	// ========================================================================
	// Step 1: Stream the multipart body through a pipe
	// ========================================================================

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		err := writeForm(form, map[string]string{
			"upload_preset": b.cfg.UploadPreset,
			"folder":        "users/" + ownerID,
			"tags":          "user_" + ownerID,
		}, file, progress)
		pw.CloseWithError(err)
	}()

	endpoint := fmt.Sprintf("%s/%s/%s/upload", b.cfg.APIBaseURL, b.cfg.CloudName, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		_ = pr.Close()
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	// ========================================================================
	// Step 2: Send and decode
	// ========================================================================

	resp, err := b.client.Do(req)
	if err != nil {
		_ = pr.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		return nil, &errdefs.UploadError{
			Backend:   b.Type().String(),
			Permanent: isPermanentStatus(resp.StatusCode),
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, msg),
		}
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.PublicID == "" || out.SecureURL == "" {
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Err: errors.New("response missing public_id or secure_url")}
	}

	logger.Debug("CDN: uploaded %s as %s (%s)", file.Name, out.PublicID, out.ResourceType)

	return &backend.UploadResult{URL: out.SecureURL, Path: out.PublicID, Type: backend.StorageTypeCDN}, nil
}

func writeForm(form *multipart.Writer, fields map[string]string, file *backend.File, progress backend.ProgressFunc) error {
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", file.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, backend.NewProgressReader(file.Reader(), file.Size, progress)); err != nil {
		return err
	}
	return form.Close()
}

func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// isDocument reports whether a file must be stored as a raw resource.
func isDocument(mimeType, name string) bool {
	mimeType = strings.ToLower(mimeType)
	if strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/") || strings.HasPrefix(mimeType, "audio/") {
		return false
	}
	if mimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return true
	}
	return strings.HasPrefix(mimeType, "application/") || strings.HasPrefix(mimeType, "text/")
}

// ResourceTypes returns the delete classifications to try for an object,
// most likely first.
func ResourceTypes(hint *backend.DeleteHint) []string {
	if hint == nil {
		return []string{ResourceImage, ResourceRaw, ResourceVideo}
	}
	mt := strings.ToLower(hint.MimeType)
	switch {
	case strings.HasPrefix(mt, "video/"), strings.HasPrefix(mt, "audio/"):
		return []string{ResourceVideo, ResourceRaw, ResourceImage}
	case isDocument(hint.MimeType, hint.Name):
		return []string{ResourceRaw, ResourceImage, ResourceVideo}
	default:
		return []string{ResourceImage, ResourceRaw, ResourceVideo}
	}
}
