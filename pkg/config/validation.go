package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags first, then the cross-field rules tags
// cannot express. Only the first failure is reported.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Backends.Profile != "memory" && len(cfg.Backends.Blob.SigningSecret) < 16 {
		return fmt.Errorf("backends.blob: signing_secret must be at least 16 bytes")
	}

	cdn := cfg.Backends.CDN
	if cdn.CloudName != "" && cdn.UploadPreset == "" {
		return fmt.Errorf("backends.cdn: upload_preset is required when cloud_name is set")
	}

	drive := cfg.Backends.Drive
	if drive.ClientID != "" && len(drive.StateSecret) < 16 {
		return fmt.Errorf("backends.drive: state_secret must be at least 16 bytes when client_id is set")
	}

	if cfg.Metrics.Enabled {
		if _, port, err := net.SplitHostPort(cfg.Server.Addr); err == nil && port == strconv.Itoa(cfg.Metrics.Port) {
			return fmt.Errorf("metrics.port %d collides with server.addr %q", cfg.Metrics.Port, cfg.Server.Addr)
		}
	}

	return nil
}

// formatValidationError turns the first validator error into a readable
// message.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
