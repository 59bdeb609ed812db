package sirius

import (
	"errors"
)

var (
	ErrInvalidFormat     = errors.New("invalid format")
	ErrDuplicateSnapshot = errors.New("duplicate snapshot")
	ErrNotFound          = errors.New("not found")
	ErrUnavailable       = errors.New("store unavailable")
)

// Kind names the error kind of err for transport layers. Errors outside the
// four known kinds report "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrDuplicateSnapshot):
		return "duplicate_snapshot"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
