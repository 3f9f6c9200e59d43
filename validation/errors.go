// Package validation holds the configuration errors reported when declarative render, compute or
// binding descriptions are malformed. They are always returned before any driver object is created.
package validation

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrUnknownFormat    = errors.New("unknown format")
	ErrUnknownKind      = errors.New("unknown kind")
	ErrMissingReference = errors.New("missing required reference")
	ErrZeroSize         = errors.New("size resolves to zero")
	ErrInvalidValue     = errors.New("invalid value")
	ErrDuplicate        = errors.New("duplicate entry")
)

// ConfigError describes a single malformed field. Err is one of the sentinel errors in this package,
// so callers can test the category with errors.Is.
type ConfigError struct {
	Component string
	Field     string
	Err       error
	Detail    string
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v: %s", e.Component, e.Field, e.Err, e.Detail)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func New(component, field string, sentinel error, format string, args ...any) *ConfigError {
	return &ConfigError{
		Component: component,
		Field:     field,
		Err:       sentinel,
		Detail:    fmt.Sprintf(format, args...),
	}
}

// IsConfigError reports whether err, or anything it wraps, is a ConfigError
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}
