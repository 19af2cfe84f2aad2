package buildrequest

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is matched by every resolution error. Requests failing with it are
// rejected before any side effect and are never retried.
var ErrInvalidRequest = errors.New("invalid build request")

// MissingFieldError reports a mandatory field that was not supplied.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing %s", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// UnsupportedVersionError reports a version outside a stack's template table.
type UnsupportedVersionError struct {
	Stack   Stack
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unexpected %s version: %s", e.Stack, e.Version)
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// UnsupportedStackError reports a stack with no template table.
type UnsupportedStackError struct {
	Stack string
}

func (e *UnsupportedStackError) Error() string {
	return fmt.Sprintf("unexpected stack: %s", e.Stack)
}

func (e *UnsupportedStackError) Is(target error) bool {
	return target == ErrInvalidRequest
}
