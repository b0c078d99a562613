package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/marmos91/dittodrive/internal/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
)

const (
	stateAudience = "dittodrive-drive-state"

	// DefaultStateTTL bounds how long a user may take on the consent screen.
	DefaultStateTTL = 10 * time.Minute
)

// ErrInvalidState is returned by Exchange for a forged or expired
// state parameter.
var ErrInvalidState = errors.New("drive: invalid authorization state")

// NewOAuthConfig returns the OAuth client for the drive backend. Only the
// drive.file scope is requested: the application sees the files it created.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drivev3.DriveFileScope},
	}
}

// Authorizer runs the OAuth consent flow and is the only writer of new
// grants into the CredentialStore.
//
// The state parameter is a signed JWT naming the owner, so the callback
// needs no server-side session.
type Authorizer struct {
	oauth      *oauth2.Config
	store      CredentialStore
	secret     []byte
	stateTTL   time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// AuthorizerConfig configures an Authorizer.
type AuthorizerConfig struct {
	OAuth       *oauth2.Config
	Credentials CredentialStore
	StateSecret []byte
	StateTTL    time.Duration
	HTTPClient  *http.Client
	Now         func() time.Time
}

// NewAuthorizer validates cfg and creates an Authorizer.
func NewAuthorizer(cfg AuthorizerConfig) (*Authorizer, error) {
	if cfg.OAuth == nil || cfg.OAuth.ClientID == "" {
		return nil, errors.New("drive: oauth client is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("drive: credential store is required")
	}
	if len(cfg.StateSecret) < 16 {
		return nil, errors.New("drive: state secret must be at least 16 bytes")
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Authorizer{
		oauth:      cfg.OAuth,
		store:      cfg.Credentials,
		secret:     cfg.StateSecret,
		stateTTL:   ttl,
		httpClient: cfg.HTTPClient,
		now:        now,
	}, nil
}

// AuthCodeURL returns the consent URL for ownerID. Offline access is
// requested so the grant carries a refresh token.
func (a *Authorizer) AuthCodeURL(ownerID string) (string, error) {
	if ownerID == "" {
		return "", errors.New("drive: owner is required")
	}
	now := a.now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   ownerID,
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.stateTTL)),
	}).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange completes the flow: it verifies state, trades code for a token
// and stores it. It returns the owner the grant belongs to.
func (a *Authorizer) Exchange(ctx context.Context, state, code string) (string, error) {
	ownerID, err := a.verifyState(state)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", errors.New("drive: authorization code is required")
	}

	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("drive token exchange: %w", err)
	}

	if err := a.store.Put(ctx, ownerID, tok); err != nil {
		return "", err
	}

	logger.Info("Drive: connected for %s (refresh token: %t)", ownerID, tok.RefreshToken != "")
	return ownerID, nil
}

// Disconnect forgets ownerID's grant.
func (a *Authorizer) Disconnect(ctx context.Context, ownerID string) error {
	if err := a.store.Delete(ctx, ownerID); err != nil {
		return err
	}
	logger.Info("Drive: disconnected for %s", ownerID)
	return nil
}

func (a *Authorizer) verifyState(state string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || claims.Subject == "" {
		return "", ErrInvalidState
	}
	return claims.Subject, nil
}
