package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// ErrNoCredentials is returned by a CredentialStore when the owner has not
// authorised the drive.
var ErrNoCredentials = errors.New("drive: no credentials for owner")

// CredentialStore holds per-owner OAuth tokens.
//
// Authorizer is the only writer of new grants; the backend writes back
// refreshed access tokens. Implementations must be safe for concurrent use.
type CredentialStore interface {
	// Get returns the owner's token or ErrNoCredentials.
	Get(ctx context.Context, ownerID string) (*oauth2.Token, error)

	// Put stores or replaces the owner's token.
	Put(ctx context.Context, ownerID string, token *oauth2.Token) error

	// Delete removes the owner's token. Absent owners are not an error.
	Delete(ctx context.Context, ownerID string) error
}

// ============================================================================
// In-memory store
// ============================================================================

// MemoryCredentialStore keeps tokens in process memory.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	tokens map[string]oauth2.Token
}

// NewMemoryCredentialStore creates an empty store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{tokens: make(map[string]oauth2.Token)}
}

func (s *MemoryCredentialStore) Get(_ context.Context, ownerID string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[ownerID]
	if !ok {
		return nil, ErrNoCredentials
	}
	return &tok, nil
}

func (s *MemoryCredentialStore) Put(_ context.Context, ownerID string, token *oauth2.Token) error {
	if token == nil {
		return errors.New("drive: nil token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[ownerID] = *token
	return nil
}

func (s *MemoryCredentialStore) Delete(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, ownerID)
	return nil
}

// ============================================================================
// Redis store
// ============================================================================

// storedToken is the JSON form of a token in Redis.
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// RedisCredentialStore keeps tokens in Redis so every API replica sees the
// same grants.
//
// Keys are {prefix}{ownerID}. With a TTL, grants without a refresh token
// expire with their access token; grants with one are kept for TTL.
type RedisCredentialStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisConfig configures a RedisCredentialStore.
type RedisConfig struct {
	Client    redis.UniversalClient
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisCredentialStore creates a store on an existing client.
func NewRedisCredentialStore(cfg RedisConfig) (*RedisCredentialStore, error) {
	if cfg.Client == nil {
		return nil, errors.New("drive: redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "dittodrive:drive:token:"
	}
	return &RedisCredentialStore{client: cfg.Client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisCredentialStore) key(ownerID string) string {
	return s.prefix + ownerID
}

func (s *RedisCredentialStore) Get(ctx context.Context, ownerID string) (*oauth2.Token, error) {
	data, err := s.client.Get(ctx, s.key(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read drive token: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode drive token: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}, nil
}

func (s *RedisCredentialStore) Put(ctx context.Context, ownerID string, token *oauth2.Token) error {
	if token == nil {
		return errors.New("drive: nil token")
	}
	data, err := json.Marshal(storedToken{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	})
	if err != nil {
		return fmt.Errorf("failed to encode drive token: %w", err)
	}

	ttl := s.ttl
	if token.RefreshToken == "" && !token.Expiry.IsZero() {
		if untilExpiry := time.Until(token.Expiry); untilExpiry > 0 && (ttl == 0 || untilExpiry < ttl) {
			ttl = untilExpiry
		}
	}

	if err := s.client.Set(ctx, s.key(ownerID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store drive token: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Delete(ctx context.Context, ownerID string) error {
	if err := s.client.Del(ctx, s.key(ownerID)).Err(); err != nil {
		return fmt.Errorf("failed to delete drive token: %w", err)
	}
	return nil
}
