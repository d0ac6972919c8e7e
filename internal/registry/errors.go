package registry

import (
	"errors"
	"fmt"
)

// Code classifies a failed registry call. The set mirrors the status codes
// the registry actually answers with; everything else collapses to
// CodeInternal.
type Code string

const (
	CodeUnauthenticated  Code = "unauthenticated"
	CodePermissionDenied Code = "permission_denied"
	CodeAlreadyExists    Code = "already_exists"
	CodeNotFound         Code = "not_found"
	CodeInvalidArgument  Code = "invalid_argument"
	CodeUnavailable      Code = "unavailable"
	CodeTimeout          Code = "timeout"
	CodeInternal         Code = "internal"
)

// Error is a classified failure of a single registry call.
type Error struct {
	Op      string
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
}

// CodeOf extracts the classification of err, or CodeInternal when err did
// not come from a registry call.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeInternal
}

// IsAlreadyExists reports whether err is the registry's own duplicate
// answer. The create call's verdict is authoritative even when an earlier
// lookup said not-found.
func IsAlreadyExists(err error) bool {
	return CodeOf(err) == CodeAlreadyExists
}

// IsTransient reports whether the call may succeed on a later attempt
// without operator intervention.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout:
		return true
	}
	return false
}
