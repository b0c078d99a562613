package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/backend/blob"
	"github.com/marmos91/dittodrive/pkg/backend/cdn"
	"github.com/marmos91/dittodrive/pkg/backend/drive"
	"github.com/marmos91/dittodrive/pkg/backend/memory"
	s3backend "github.com/marmos91/dittodrive/pkg/backend/s3"
	"github.com/marmos91/dittodrive/pkg/metadata"
	metamemory "github.com/marmos91/dittodrive/pkg/metadata/memory"
	"github.com/marmos91/dittodrive/pkg/metadata/postgres"
	"github.com/marmos91/dittodrive/pkg/metadata/sqlite"
	"github.com/marmos91/dittodrive/pkg/registry"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
)

// decodeSection decodes a type-specific map into out and validates it.
// Weak typing lets environment overrides ("true", "25") reach bool and
// int fields.
func decodeSection(section string, options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("failed to decode %s config: %w", section, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%s: %w", section, formatValidationError(err))
	}
	return nil
}

// ============================================================================
// Metadata
// ============================================================================

// CreateGateway creates the metadata gateway selected by cfg.Type.
//
// Supported types:
//   - "memory": pkg/metadata/memory (ephemeral)
//   - "sqlite": pkg/metadata/sqlite (single file)
//   - "postgres": pkg/metadata/postgres (pgx pool)
func CreateGateway(ctx context.Context, cfg *MetadataConfig) (metadata.Gateway, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		logger.Warn("Using in-memory metadata: records are lost on restart")
		return metamemory.New(), nil

	case "sqlite":
		var sqliteCfg sqlite.Config
		if err := decodeSection("metadata.sqlite", cfg.SQLite, &sqliteCfg); err != nil {
			return nil, err
		}
		return sqlite.New(ctx, sqliteCfg)

	case "postgres":
		var pgCfg postgres.Config
		if err := decodeSection("metadata.postgres", cfg.Postgres, &pgCfg); err != nil {
			return nil, err
		}
		return postgres.New(ctx, pgCfg)

	default:
		return nil, fmt.Errorf("unknown metadata type: %q (supported: memory, sqlite, postgres)", cfg.Type)
	}
}

// MigrateMetadata applies pending schema migrations for the configured
// gateway. The memory gateway has no schema.
func MigrateMetadata(cfg *MetadataConfig) error {
	switch cfg.Type {
	case "memory":
		return nil

	case "sqlite":
		var sqliteCfg sqlite.Config
		if err := decodeSection("metadata.sqlite", cfg.SQLite, &sqliteCfg); err != nil {
			return err
		}
		return sqlite.Migrate(sqliteCfg.Path)

	case "postgres":
		var pgCfg postgres.Config
		if err := decodeSection("metadata.postgres", cfg.Postgres, &pgCfg); err != nil {
			return err
		}
		return postgres.Migrate(pgCfg.DSN)

	default:
		return fmt.Errorf("unknown metadata type: %q", cfg.Type)
	}
}

// ============================================================================
// Backends
// ============================================================================

// Backends is the result of CreateBackends: the registry plus the pieces
// the HTTP layer needs beyond the Backend contract.
type Backends struct {
	Registry *registry.Registry

	// Blob serves /blobs downloads. Nil with the memory profile.
	Blob *blob.Backend

	// Authorizer runs the drive consent flow. Nil when the drive is off.
	Authorizer *drive.Authorizer

	closers []io.Closer
}

// Close releases every backend resource.
func (b *Backends) Close() error {
	errs := []error{b.Registry.Close()}
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// CreateBackends builds every configured backend and the registry holding
// them. Disabled backends leave their slot empty.
func CreateBackends(ctx context.Context, cfg *Config) (*Backends, error) {
	if cfg.Backends.Profile == "memory" {
		return createMemoryBackends(), nil
	}

	out := &Backends{Registry: &registry.Registry{}}

	if c := CreateCDNBackend(cfg.Backends.CDN); c != nil {
		out.Registry.CDN = c
	}

	if cfg.Backends.S3.Bucket != "" {
		s3b, err := CreateS3Backend(ctx, cfg.Backends.S3)
		if err != nil {
			return nil, err
		}
		out.Registry.S3 = s3b
	}

	blobBackend, err := CreateBlobBackend(cfg.Backends.Blob, cfg.Server.PublicURL)
	if err != nil {
		return nil, err
	}
	out.Blob = blobBackend
	out.Registry.Blob = blobBackend

	if cfg.Backends.Drive.ClientID != "" {
		store, closer, err := CreateCredentialStore(cfg.Backends.Drive.Credentials)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		if closer != nil {
			out.closers = append(out.closers, closer)
		}

		driveBackend, authorizer, err := CreateDriveBackend(cfg.Backends.Drive, cfg.Server.PublicURL, store)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out.Registry.Drive = driveBackend
		out.Authorizer = authorizer
	}

	if err := out.Registry.Validate(); err != nil {
		_ = out.Close()
		return nil, err
	}

	for _, t := range backend.AllStorageTypes {
		b, err := out.Registry.Get(t)
		logger.Info("Backend %s: enabled=%v", t, err == nil && b.IsConfigured())
	}
	return out, nil
}

// createMemoryBackends fills every slot but the drive with in-process
// backends. The object-storage slots can be listed so GC works locally.
func createMemoryBackends() *Backends {
	logger.Warn("Using in-memory backends: uploaded content is lost on restart")
	return &Backends{
		Registry: &registry.Registry{
			CDN:  memory.New(memory.WithType(backend.StorageTypeCDN)),
			S3:   memory.New(memory.WithType(backend.StorageTypeS3)).Lister(),
			Blob: memory.New(memory.WithType(backend.StorageTypeBlob)).Lister(),
		},
	}
}

// CreateCDNBackend returns nil when no cloud name is configured.
func CreateCDNBackend(cfg CDNConfig) backend.Backend {
	if cfg.CloudName == "" {
		return nil
	}
	if cfg.DeleteProxyURL == "" {
		logger.Warn("CDN delete proxy is not configured: CDN deletes will fail")
	}
	return cdn.New(cdn.Config{
		CloudName:        cfg.CloudName,
		UploadPreset:     cfg.UploadPreset,
		DeleteProxyURL:   cfg.DeleteProxyURL,
		DeleteProxyToken: cfg.DeleteProxyToken,
		APIBaseURL:       cfg.APIBaseURL,
	})
}

// CreateS3Backend builds the AWS client and the S3 backend.
func CreateS3Backend(ctx context.Context, cfg S3Config) (*s3backend.Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backends.s3: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("backends.s3: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	// Static credentials if provided, otherwise the default chain.
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and Localstack need path-style addressing.
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Backend
	// ========================================================================

	b, err := s3backend.New(s3backend.Config{
		Client:    client,
		Bucket:    cfg.Bucket,
		KeyPrefix: cfg.KeyPrefix,
		PartSize:  cfg.PartSize,
		URLExpiry: cfg.URLExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 backend: %w", err)
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Bucket, cfg.Region, cfg.KeyPrefix)
	return b, nil
}

// CreateBlobBackend opens the Badger bucket. Download URLs are issued under
// {publicURL}/blobs.
func CreateBlobBackend(cfg BlobConfig, publicURL string) (*blob.Backend, error) {
	signer, err := blob.NewURLSigner([]byte(cfg.SigningSecret), publicURL+"/blobs", cfg.URLExpiry, nil)
	if err != nil {
		return nil, err
	}

	b, err := blob.New(blob.Config{
		Path:          cfg.Path,
		InMemory:      cfg.InMemory,
		Signer:        signer,
		MaxObjectSize: cfg.MaxObjectSize,
	})
	if err != nil {
		return nil, err
	}

	if cfg.InMemory {
		logger.Warn("Blob bucket is in memory: blobs are lost on restart")
	} else {
		logger.Info("Blob bucket opened at %s", cfg.Path)
	}
	return b, nil
}

// redisOptions is the backends.drive.credentials.redis section.
type redisOptions struct {
	Addr      string        `mapstructure:"addr" validate:"required"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// CreateCredentialStore returns the drive grant store and, when it holds a
// connection, the closer for it.
func CreateCredentialStore(cfg CredentialsConfig) (drive.CredentialStore, io.Closer, error) {
	switch cfg.Type {
	case "", "memory":
		logger.Warn("Drive grants are kept in memory: users must reconnect after a restart")
		return drive.NewMemoryCredentialStore(), nil, nil

	case "redis":
		var opts redisOptions
		if err := decodeSection("backends.drive.credentials.redis", cfg.Redis, &opts); err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Username: opts.Username,
			Password: opts.Password,
			DB:       opts.DB,
		})
		store, err := drive.NewRedisCredentialStore(drive.RedisConfig{
			Client:    client,
			KeyPrefix: opts.KeyPrefix,
			TTL:       opts.TTL,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Info("Drive grants stored in Redis at %s", opts.Addr)
		return store, client, nil

	default:
		return nil, nil, fmt.Errorf("unknown credential store type: %q (supported: memory, redis)", cfg.Type)
	}
}

// CreateDriveBackend builds the drive backend and its consent flow.
func CreateDriveBackend(cfg DriveConfig, publicURL string, store drive.CredentialStore) (*drive.Backend, *drive.Authorizer, error) {
	oauth := drive.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, publicURL+cfg.RedirectPath)

	authorizer, err := drive.NewAuthorizer(drive.AuthorizerConfig{
		OAuth:       oauth,
		Credentials: store,
		StateSecret: []byte(cfg.StateSecret),
	})
	if err != nil {
		return nil, nil, err
	}

	b := drive.New(drive.Config{
		OAuth:       oauth,
		Credentials: store,
		Endpoint:    cfg.Endpoint,
	})
	return b, authorizer, nil
}
