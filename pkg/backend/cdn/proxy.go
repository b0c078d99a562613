package cdn

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
	"github.com/marmos91/dittodrive/internal/logger"
)

// ProxyConfig configures the delete proxy.
type ProxyConfig struct {
	CloudName string
	APIKey    string
	APISecret string

	// Token, when set, must be presented by callers as a Bearer token.
	Token string

	// UploadPrefix overrides the SDK's API host (scheme and host only).
	UploadPrefix string
}

// ProxyHandler holds the CDN account secret and performs signed destroy
// calls on behalf of the backend.
//
// Request:  POST {"publicId": "...", "resourceType": "image|raw|video"}
// Response: 200 {"result": "ok"} or 200 {"result": "not found"}
// Failures: 4xx for bad requests, 502 {"error": "..."} when the CDN fails.
type ProxyHandler struct {
	cfg ProxyConfig
	cld *cloudinary.Cloudinary
}

// NewProxyHandler creates the proxy handler.
func NewProxyHandler(cfg ProxyConfig) (*ProxyHandler, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cdn proxy requires cloud name, api key and api secret")
	}

	conf, err := config.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cdn proxy config: %w", err)
	}
	if cfg.UploadPrefix != "" {
		conf.API.UploadPrefix = strings.TrimRight(cfg.UploadPrefix, "/")
	}

	cld, err := cloudinary.NewFromConfiguration(*conf)
	if err != nil {
		return nil, fmt.Errorf("cdn proxy client: %w", err)
	}
	return &ProxyHandler{cfg: cfg, cld: cld}, nil
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, DeleteResponse{Error: "method not allowed"})
		return
	}
	if h.cfg.Token != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, DeleteResponse{Error: "unauthorized"})
			return
		}
	}

	var req DeleteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil || req.PublicID == "" {
		writeJSON(w, http.StatusBadRequest, DeleteResponse{Error: "publicId is required"})
		return
	}
	switch req.ResourceType {
	case "":
		req.ResourceType = ResourceImage
	case ResourceImage, ResourceRaw, ResourceVideo:
	default:
		writeJSON(w, http.StatusBadRequest, DeleteResponse{Error: "invalid resourceType"})
		return
	}

	result, err := h.Destroy(r.Context(), req.PublicID, req.ResourceType)
	if err != nil {
		logger.Error("CDN proxy: destroy %s (%s): %v", req.PublicID, req.ResourceType, err)
		writeJSON(w, http.StatusBadGateway, DeleteResponse{Error: err.Error()})
		return
	}

	logger.Info("CDN proxy: destroy %s (%s): %s", req.PublicID, req.ResourceType, result)
	writeJSON(w, http.StatusOK, DeleteResponse{Result: result})
}

// Destroy calls the CDN's signed destroy endpoint and returns its result
// ("ok" or "not found").
func (h *ProxyHandler) Destroy(ctx context.Context, publicID, resourceType string) (string, error) {
	res, err := h.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return "", err
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("destroy: %s", res.Error.Message)
	}

	switch res.Result {
	case ResultOK, ResultNotFound:
		return res.Result, nil
	default:
		return "", fmt.Errorf("destroy result %q", res.Result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
