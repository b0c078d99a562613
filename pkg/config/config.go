package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/spf13/viper"
)

// Config represents the complete DittoDrive configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTODRIVE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Metadata follows the store configuration pattern: Type selects the
// implementation and only the matching type-specific section is decoded,
// by the factory that builds it.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	Backends BackendsConfig `mapstructure:"backends" yaml:"backends"`
	Upload   UploadConfig   `mapstructure:"upload" yaml:"upload"`
	GC       gc.Config      `mapstructure:"gc" yaml:"gc"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	CDNProxy CDNProxyConfig `mapstructure:"cdn_proxy" yaml:"cdn_proxy"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum log level (DEBUG, INFO, WARN, ERROR), normalized
	// to uppercase.
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`

	// PublicURL is the externally reachable base URL of the API. Blob
	// download links and the drive OAuth callback are built from it.
	PublicURL string `mapstructure:"public_url" yaml:"public_url" validate:"required,url"`

	// MaxUploadBytes bounds multipart request bodies.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles API requests per user. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// MetadataConfig selects the metadata gateway.
type MetadataConfig struct {
	// Type is memory, sqlite or postgres.
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory sqlite postgres"`

	// SQLite is decoded into sqlite.Config when Type = "sqlite".
	SQLite map[string]any `mapstructure:"sqlite" yaml:"sqlite"`

	// Postgres is decoded into postgres.Config when Type = "postgres".
	Postgres map[string]any `mapstructure:"postgres" yaml:"postgres"`
}

// BackendsConfig configures every storage backend slot.
type BackendsConfig struct {
	// Profile "memory" replaces every backend with an in-process one, for
	// local development. Anything stored is lost on exit.
	Profile string `mapstructure:"profile" yaml:"profile" validate:"oneof=standard memory"`

	CDN   CDNConfig   `mapstructure:"cdn" yaml:"cdn"`
	S3    S3Config    `mapstructure:"s3" yaml:"s3"`
	Blob  BlobConfig  `mapstructure:"blob" yaml:"blob"`
	Drive DriveConfig `mapstructure:"drive" yaml:"drive"`
}

// CDNConfig configures the media CDN. Leaving CloudName empty disables it.
type CDNConfig struct {
	CloudName        string `mapstructure:"cloud_name" yaml:"cloud_name"`
	UploadPreset     string `mapstructure:"upload_preset" yaml:"upload_preset"`
	DeleteProxyURL   string `mapstructure:"delete_proxy_url" yaml:"delete_proxy_url" validate:"omitempty,url"`
	DeleteProxyToken string `mapstructure:"delete_proxy_token" yaml:"delete_proxy_token"`
	APIBaseURL       string `mapstructure:"api_base_url" yaml:"api_base_url" validate:"omitempty,url"`
}

// S3Config configures S3-compatible object storage. Leaving Bucket empty
// disables it.
type S3Config struct {
	Bucket          string        `mapstructure:"bucket" yaml:"bucket"`
	Region          string        `mapstructure:"region" yaml:"region" validate:"required_with=Bucket"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string        `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	KeyPrefix       string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	ForcePathStyle  bool          `mapstructure:"force_path_style" yaml:"force_path_style"`
	PartSize        int64         `mapstructure:"part_size" yaml:"part_size" validate:"gte=0"`
	URLExpiry       time.Duration `mapstructure:"url_expiry" yaml:"url_expiry"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
}

// BlobConfig configures the database-backed bucket. It is always enabled.
type BlobConfig struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path     string `mapstructure:"path" yaml:"path" validate:"required_without=InMemory"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`

	// SigningSecret signs download URLs. At least 16 bytes; not needed
	// with the memory profile.
	SigningSecret string `mapstructure:"signing_secret" yaml:"signing_secret"`

	URLExpiry     time.Duration `mapstructure:"url_expiry" yaml:"url_expiry"`
	MaxObjectSize int64         `mapstructure:"max_object_size" yaml:"max_object_size" validate:"gte=0"`
}

// DriveConfig configures the personal drive. Leaving ClientID empty
// disables it.
type DriveConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret" validate:"required_with=ClientID"`

	// StateSecret signs the OAuth state parameter. At least 16 bytes.
	StateSecret string `mapstructure:"state_secret" yaml:"state_secret"`

	// RedirectPath is appended to server.public_url to form the OAuth
	// redirect URL.
	RedirectPath string `mapstructure:"redirect_path" yaml:"redirect_path"`

	// Endpoint overrides the Drive API base URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`

	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
}

// CredentialsConfig selects where drive grants are kept.
type CredentialsConfig struct {
	// Type is memory or redis.
	Type string `mapstructure:"type" yaml:"type" validate:"oneof=memory redis"`

	// Redis is decoded into redisOptions when Type = "redis".
	Redis map[string]any `mapstructure:"redis" yaml:"redis"`
}

// UploadConfig tunes the orchestrator.
type UploadConfig struct {
	// LocalQuota is the per-owner byte budget outside the personal drive.
	LocalQuota int64 `mapstructure:"local_quota" yaml:"local_quota" validate:"gt=0"`

	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1,lte=10"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay" validate:"gtefield=InitialDelay"`

	// PageSize is the default listing page size.
	PageSize int `mapstructure:"page_size" yaml:"page_size" validate:"gt=0,lte=1000"`

	// CompensationTimeout bounds the delete that undoes an upload whose
	// record could not be written.
	CompensationTimeout time.Duration `mapstructure:"compensation_timeout" yaml:"compensation_timeout" validate:"gt=0"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// CDNProxyConfig configures the standalone CDN delete proxy.
type CDNProxyConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	CloudName string `mapstructure:"cloud_name" yaml:"cloud_name"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`

	// Token, when set, must be sent by the CDN backend as a Bearer token.
	Token string `mapstructure:"token" yaml:"token"`

	// APIHost overrides the CDN API host used for destroy calls.
	APIHost string `mapstructure:"api_host" yaml:"api_host" validate:"omitempty,url"`
}

// Load loads configuration from file, environment, and defaults, then
// validates it. An empty configPath searches the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys are bound explicitly so that environment variables work even when
// the key is absent from the config file. viper's AutomaticEnv only covers
// keys it already knows about.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.addr", "server.public_url", "server.rate_limit.requests_per_second",
	"metadata.type", "metadata.sqlite.path", "metadata.postgres.dsn",
	"backends.profile",
	"backends.cdn.cloud_name", "backends.cdn.upload_preset",
	"backends.cdn.delete_proxy_url", "backends.cdn.delete_proxy_token",
	"backends.s3.bucket", "backends.s3.region", "backends.s3.endpoint",
	"backends.s3.access_key_id", "backends.s3.secret_access_key",
	"backends.blob.path", "backends.blob.signing_secret",
	"backends.drive.client_id", "backends.drive.client_secret", "backends.drive.state_secret",
	"backends.drive.credentials.type", "backends.drive.credentials.redis.addr",
	"metrics.enabled", "metrics.port",
	"gc.enabled", "gc.dry_run",
	"cdn_proxy.api_key", "cdn_proxy.api_secret", "cdn_proxy.token",
}

// setupViper configures environment variables and config file lookup.
//
// Environment variables use the DITTODRIVE_ prefix with dots replaced by
// underscores, e.g. DITTODRIVE_BACKENDS_S3_BUCKET.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DITTODRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file. A missing file is not an
// error: defaults and environment variables apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/dittodrive, ~/.config/dittodrive,
// or "." when the home directory is unknown.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittodrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittodrive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
