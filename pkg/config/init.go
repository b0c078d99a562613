package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoDrive Configuration File
#
# Every key can be overridden with an environment variable: prefix with
# DITTODRIVE_, uppercase, and replace dots with underscores, e.g.
#   DITTODRIVE_BACKENDS_S3_BUCKET=my-bucket
#
`

// sectionComments are written above each top-level key.
var sectionComments = map[string]string{
	"logging":   "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, file path)",
	"server":    "HTTP API. public_url is used for blob download links and the drive OAuth redirect.\nrate_limit applies per user; requests_per_second: 0 disables it",
	"metadata":  "Metadata gateway: memory, sqlite or postgres. Only the section matching type is used",
	"backends":  "Storage backends. CDN, S3 and drive are disabled while their identifying field is empty;\nthe blob bucket is always on. profile: memory replaces everything with in-process stores",
	"upload":    "Per-owner quota (bytes) outside the personal drive and the upload retry policy",
	"gc":        "Orphan collection: deletes objects no metadata record references",
	"metrics":   "Prometheus endpoint on its own port",
	"cdn_proxy": "Standalone CDN delete proxy (dittodrive cdn-proxy). Holds the CDN API secret",
}

// InitConfig writes a default config file to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default config file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()
	secret, err := randomSecret()
	if err != nil {
		return err
	}
	cfg.Backends.Blob.SigningSecret = secret

	content, err := generateYAMLWithComments(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// The file carries secrets.
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg with a header and one comment per
// top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// Mapping nodes alternate key, value.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
