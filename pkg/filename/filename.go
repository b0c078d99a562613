// Package filename sanitises and validates user supplied file and folder names.
package filename

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/marmos91/dittodrive/pkg/errdefs"
)

// MaxLength is the longest accepted name, in characters.
const MaxLength = 255

var hostile = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

var reserved = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitize replaces path-hostile and control characters with '_' and drops
// leading whitespace. Trailing whitespace is kept so Validate can reject it.
func Sanitize(name string) string {
	return strings.TrimLeftFunc(hostile.ReplaceAllString(name, "_"), unicode.IsSpace)
}

// Validate checks an already sanitised name.
func Validate(name string) error {
	switch {
	case name == "":
		return &errdefs.InvalidNameError{Name: name, Reason: "name is required"}
	case utf8.RuneCountInString(name) > MaxLength:
		return &errdefs.InvalidNameError{Name: name, Reason: "name must be at most 255 characters"}
	case strings.HasSuffix(name, "."):
		return &errdefs.InvalidNameError{Name: name, Reason: "name must not end with a dot"}
	case strings.HasSuffix(name, " "):
		return &errdefs.InvalidNameError{Name: name, Reason: "name must not end with a space"}
	}

	stem, _, _ := strings.Cut(strings.ToUpper(name), ".")
	if _, ok := reserved[stem]; ok {
		return &errdefs.InvalidNameError{Name: name, Reason: "reserved device name"}
	}
	return nil
}

// Clean sanitises then validates name, returning the name to store.
func Clean(name string) (string, error) {
	if utf8.RuneCountInString(name) > MaxLength {
		return "", &errdefs.InvalidNameError{Name: name, Reason: "name must be at most 255 characters"}
	}
	s := Sanitize(name)
	if err := Validate(s); err != nil {
		return "", err
	}
	return s, nil
}
