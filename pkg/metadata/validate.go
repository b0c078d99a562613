package metadata

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/filename"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Names reaching the gateway must already be sanitised, so the tag
		// only checks them.
		_ = validate.RegisterValidation("filename", func(fl validator.FieldLevel) bool {
			name := fl.Field().String()
			return filename.Sanitize(name) == name && filename.Validate(name) == nil
		})
	})
	return validate
}

// ValidateFile checks the shape of a record about to be inserted.
func ValidateFile(record *FileRecord) error {
	if record == nil {
		return &errdefs.ValidationError{Reason: "file record is required"}
	}
	return toValidationError(validatorInstance().Struct(record))
}

// ValidateFolder checks the shape of a folder about to be inserted.
func ValidateFolder(folder *Folder) error {
	if folder == nil {
		return &errdefs.ValidationError{Reason: "folder is required"}
	}
	return toValidationError(validatorInstance().Struct(folder))
}

// toValidationError reports the first failing field.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &errdefs.ValidationError{Reason: err.Error()}
	}

	fe := verrs[0]
	reason := fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "max":
		reason = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		reason = fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		reason = fmt.Sprintf("must be one of [%s]", fe.Param())
	case "uuid":
		reason = "must be a UUID"
	case "filename":
		reason = "is not a valid name"
	}
	return &errdefs.ValidationError{
		Field:  fe.Field(),
		Value:  fmt.Sprint(fe.Value()),
		Reason: reason,
	}
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// IsValidID reports whether id can name a record. Malformed IDs can never
// match a row, so gateways treat them as not found.
func IsValidID(id string) bool {
	return uuid.Validate(id) == nil
}
