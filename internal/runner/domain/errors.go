package domain

import (
	"errors"
	"io/fs"
)

// Error taxonomy tags carried in the response error_type field. The set
// is closed: anything not explicitly classified falls into
// ErrorTypeRuntime, and the concrete Go error only appears in logs and
// the error message, never as a branch condition.
const (
	ErrorTypeValidation = "ValidationError"
	ErrorTypeNotFound   = "FileNotFoundError"
	ErrorTypeValue      = "ValueError"
	ErrorTypeRuntime    = "RuntimeError"
)

var (
	// ErrObjectNotFound is returned by storage when the source artifact
	// does not exist, distinct from other transport failures.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidValue is wrapped by transforms that reject their input
	// as malformed or unsupported.
	ErrInvalidValue = errors.New("invalid value")
)

// ClassifiedError lets a transform declare its own taxonomy tag for a
// failure, surfaced verbatim as the response error_type.
type ClassifiedError struct {
	Type string
	Err  error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError wraps err with an explicit error_type tag.
func NewClassifiedError(errorType string, err error) error {
	return &ClassifiedError{Type: errorType, Err: err}
}

// Classify maps a failure to its error_type tag.
func Classify(err error) string {
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified.Type != "" {
		return classified.Type
	}

	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, fs.ErrNotExist) {
		return ErrorTypeNotFound
	}

	if errors.Is(err, ErrInvalidValue) {
		return ErrorTypeValue
	}

	return ErrorTypeRuntime
}
