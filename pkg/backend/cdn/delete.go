package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

// Destroy outcomes reported by the CDN and relayed by the proxy.
const (
	ResultOK       = "ok"
	ResultNotFound = "not found"
)

// DeleteRequest is the body the delete proxy accepts.
type DeleteRequest struct {
	PublicID     string `json:"publicId"`
	ResourceType string `json:"resourceType,omitempty"`
}

// DeleteResponse is the body the delete proxy returns. Success is the
// older {"success": true} shape, accepted as a confirmed delete.
type DeleteResponse struct {
	Result  string `json:"result,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Delete removes the object through the delete proxy.
//
// The CDN keys objects by (resource type, public ID), and the type used at
// upload time is not recorded. The classification derived from hint is
// tried first, then the alternates. Only when every classification reports
// "not found" in a successful response is the object considered already
// gone, which is a success. Any non-2xx answer, including 404, is an error.
func (b *Backend) Delete(ctx context.Context, path string, hint *backend.DeleteHint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.cfg.DeleteProxyURL == "" {
		return fmt.Errorf("cdn delete proxy: %w", errdefs.ErrNotConfigured)
	}

	for _, rt := range ResourceTypes(hint) {
		result, err := b.destroy(ctx, path, rt)
		if err != nil {
			return err
		}
		if result == ResultOK {
			logger.Debug("CDN: deleted %s (%s)", path, rt)
			return nil
		}
		logger.Debug("CDN: %s not found as %s", path, rt)
	}

	logger.Debug("CDN: %s not found under any resource type, treating as deleted", path)
	return nil
}

func (b *Backend) destroy(ctx context.Context, publicID, resourceType string) (string, error) {
	payload, err := json.Marshal(DeleteRequest{PublicID: publicID, ResourceType: resourceType})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.DeleteProxyURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.DeleteProxyToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.DeleteProxyToken)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cdn delete proxy: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("cdn delete proxy: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out DeleteResponse
		msg := string(bytes.TrimSpace(body))
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			msg = out.Error
		}
		return "", fmt.Errorf("cdn delete proxy: status %d: %s", resp.StatusCode, msg)
	}

	var out DeleteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("cdn delete proxy: decode response: %w", err)
	}

	switch {
	case out.Result == ResultOK:
		return ResultOK, nil
	case out.Result == ResultNotFound:
		return ResultNotFound, nil
	case out.Result == "" && out.Success != nil && *out.Success:
		return ResultOK, nil
	default:
		return "", fmt.Errorf("cdn delete proxy: unconfirmed delete (result %q)", out.Result)
	}
}
