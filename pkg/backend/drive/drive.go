// Package drive implements the personal Google Drive backend.
//
// Unlike the other backends the drive acts on behalf of one user: every
// call resolves that user's OAuth token from a CredentialStore. A user
// without a usable token is "not connected" and the selector will not route
// uploads here.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Config contains configuration for the drive backend.
type Config struct {
	// OAuth is the application's OAuth client. Required for IsConfigured.
	OAuth *oauth2.Config

	// Credentials holds per-owner tokens. Required.
	Credentials CredentialStore

	// Endpoint overrides the Drive API base URL (tests, proxies).
	Endpoint string

	// HTTPClient is the transport used underneath the OAuth client.
	HTTPClient *http.Client
}

// Backend stores files in each user's own Google Drive.
//
// Object paths are Drive file IDs. The URL returned on upload is the
// file's webViewLink, which does not expire.
//
// Thread Safety: Safe for concurrent use.
type Backend struct {
	cfg Config
}

// New creates a drive backend. It performs no I/O.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

func (b *Backend) Type() backend.StorageType { return backend.StorageTypeDrive }

// IsConfigured reports whether the OAuth client and credential store are set.
func (b *Backend) IsConfigured() bool {
	return b.cfg.OAuth != nil && b.cfg.OAuth.ClientID != "" && b.cfg.Credentials != nil
}

// IsConnected reports whether ownerID has a token that is either still
// valid or can be refreshed.
func (b *Backend) IsConnected(ctx context.Context, ownerID string) bool {
	if !b.IsConfigured() || ownerID == "" {
		return false
	}
	tok, err := b.cfg.Credentials.Get(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			logger.Warn("Drive: credential lookup for %s failed: %v", ownerID, err)
		}
		return false
	}
	return tok.Valid() || tok.RefreshToken != ""
}

// service builds a Drive client that authenticates as ownerID. Refreshed
// tokens are written back to the credential store.
func (b *Backend) service(ctx context.Context, ownerID string) (*drivev3.Service, error) {
	if !b.IsConfigured() {
		return nil, fmt.Errorf("drive: %w", errdefs.ErrNotConfigured)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("drive: owner is required: %w", errdefs.ErrNotConnected)
	}

	tok, err := b.cfg.Credentials.Get(ctx, ownerID)
	if errors.Is(err, ErrNoCredentials) {
		return nil, fmt.Errorf("drive for %s: %w", ownerID, errdefs.ErrNotConnected)
	}
	if err != nil {
		return nil, err
	}
	if !tok.Valid() && tok.RefreshToken == "" {
		return nil, fmt.Errorf("drive token for %s expired: %w", ownerID, errdefs.ErrNotConnected)
	}

	// The token source outlives this request, so it must not inherit ctx.
	tsCtx := context.WithoutCancel(ctx)
	if b.cfg.HTTPClient != nil {
		tsCtx = context.WithValue(tsCtx, oauth2.HTTPClient, b.cfg.HTTPClient)
	}
	ts := &persistingSource{
		base:    b.cfg.OAuth.TokenSource(tsCtx, tok),
		store:   b.cfg.Credentials,
		ownerID: ownerID,
		last:    tok.AccessToken,
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(tsCtx, oauth2.ReuseTokenSource(tok, ts)))}
	if b.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(b.cfg.Endpoint))
	}
	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return svc, nil
}

// Upload creates the file in the owner's drive with a multipart
// metadata+content request.
func (b *Backend) Upload(ctx context.Context, file *backend.File, ownerID string, progress backend.ProgressFunc) (*backend.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	svc, err := b.service(ctx, ownerID)
	if err != nil {
		return nil, credentialError(err)
	}

	meta := &drivev3.File{Name: file.Name, MimeType: file.MimeType}
	var mediaOpts []googleapi.MediaOption
	if file.MimeType != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(file.MimeType))
	}

	body := backend.NewProgressReader(file.Reader(), file.Size, progress)
	created, err := svc.Files.Create(meta).
		Media(body, mediaOpts...).
		Fields("id, name, webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, uploadError(err)
	}

	logger.Debug("Drive: uploaded %s as %s for %s", file.Name, created.Id, ownerID)

	return &backend.UploadResult{
		URL:  created.WebViewLink,
		Path: created.Id,
		Type: backend.StorageTypeDrive,
	}, nil
}

// Delete removes the file by ID on behalf of hint.OwnerID. A 404 means the
// file is already gone.
func (b *Backend) Delete(ctx context.Context, path string, hint *backend.DeleteHint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ownerID := ""
	if hint != nil {
		ownerID = hint.OwnerID
	}

	svc, err := b.service(ctx, ownerID)
	if err != nil {
		return err
	}

	err = svc.Files.Delete(path).Context(ctx).Do()
	if isNotFound(err) {
		logger.Debug("Drive: %s already deleted", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("drive delete %s: %w", path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// uploadError marks client-side rejections as permanent. Timeouts and
// throttling stay retryable.
func uploadError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	permanent := false
	var gerr *googleapi.Error
	var rerr *oauth2.RetrieveError
	switch {
	case errors.As(err, &gerr):
		permanent = gerr.Code >= 400 && gerr.Code < 500 &&
			gerr.Code != http.StatusRequestTimeout && gerr.Code != http.StatusTooManyRequests
	case errors.As(err, &rerr):
		// The token endpoint rejected the refresh token.
		permanent = rerr.Response != nil && rerr.Response.StatusCode >= 400 && rerr.Response.StatusCode < 500
	}
	return &errdefs.UploadError{Backend: backend.StorageTypeDrive.String(), Permanent: permanent, Err: err}
}

// credentialError wraps a failure to build the owner's client. Missing or
// unreadable credentials do not heal by retrying.
func credentialError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &errdefs.UploadError{Backend: backend.StorageTypeDrive.String(), Permanent: true, Err: err}
}

// persistingSource writes refreshed tokens back to the store.
type persistingSource struct {
	base    oauth2.TokenSource
	store   CredentialStore
	ownerID string
	last    string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.store.Put(context.Background(), s.ownerID, tok); err != nil {
			logger.Warn("Drive: failed to persist refreshed token for %s: %v", s.ownerID, err)
		}
	}
	return tok, nil
}
