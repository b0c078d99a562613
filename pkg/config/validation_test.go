package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Backends.Blob.SigningSecret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "Defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "InvalidLogLevel",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "UnknownMetadataType",
			mutate:  func(c *Config) { c.Metadata.Type = "badger" },
			wantErr: "Type",
		},
		{
			name:    "UnknownProfile",
			mutate:  func(c *Config) { c.Backends.Profile = "cloud" },
			wantErr: "Profile",
		},
		{
			name:    "ShortSigningSecret",
			mutate:  func(c *Config) { c.Backends.Blob.SigningSecret = "short" },
			wantErr: "signing_secret",
		},
		{
			name:    "S3BucketWithoutRegion",
			mutate:  func(c *Config) { c.Backends.S3.Bucket = "b" },
			wantErr: "Region",
		},
		{
			name:    "CDNWithoutPreset",
			mutate:  func(c *Config) { c.Backends.CDN.CloudName = "demo" },
			wantErr: "upload_preset",
		},
		{
			name: "DriveWithoutStateSecret",
			mutate: func(c *Config) {
				c.Backends.Drive.ClientID = "id"
				c.Backends.Drive.ClientSecret = "secret"
			},
			wantErr: "state_secret",
		},
		{
			name:    "DriveWithoutClientSecret",
			mutate:  func(c *Config) { c.Backends.Drive.ClientID = "id" },
			wantErr: "ClientSecret",
		},
		{
			name:    "MaxDelayBelowInitialDelay",
			mutate:  func(c *Config) { c.Upload.MaxDelay = 500 * time.Millisecond },
			wantErr: "MaxDelay",
		},
		{
			name:    "GCBatchTooLarge",
			mutate:  func(c *Config) { c.GC.BatchSize = 5000 },
			wantErr: "BatchSize",
		},
		{
			name: "MetricsPortCollision",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 8080
			},
			wantErr: "collides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
