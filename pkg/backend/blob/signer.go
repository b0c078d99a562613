package blob

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultURLExpiry is how long a signed download URL stays valid.
const DefaultURLExpiry = time.Hour

const tokenAudience = "dittodrive-blob"

// ErrInvalidToken is returned when a download token does not authorise the
// requested object.
var ErrInvalidToken = errors.New("blob: invalid or expired token")

// URLSigner issues and verifies signed download URLs.
//
// A URL has the form {baseURL}/{escaped path}?token={jwt}, where the JWT is
// HS256-signed, names the object path as its subject and expires after
// Expiry.
type URLSigner struct {
	secret  []byte
	baseURL string
	expiry  time.Duration
	now     func() time.Time
}

// NewURLSigner creates a signer. baseURL is the public prefix under which
// Handler is mounted, e.g. "https://files.example.com/blobs".
func NewURLSigner(secret []byte, baseURL string, expiry time.Duration, now func() time.Time) (*URLSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("blob: signing secret must be at least 16 bytes")
	}
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	if now == nil {
		now = time.Now
	}
	return &URLSigner{
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		expiry:  expiry,
		now:     now,
	}, nil
}

// Token returns a signed token for path.
func (s *URLSigner) Token(path string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   path,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// URL returns a signed download URL for path.
func (s *URLSigner) URL(path string) (string, error) {
	token, err := s.Token(path)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s.baseURL + "/" + EscapePath(path) + "?token=" + url.QueryEscape(token), nil
}

// Verify checks that token is valid, unexpired and issued for path.
func (s *URLSigner) Verify(token, path string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != path {
		return fmt.Errorf("%w: token issued for another object", ErrInvalidToken)
	}
	return nil
}

// EscapePath escapes each segment of an object path for use in a URL.
func EscapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
