package types

import (
	"errors"
	"fmt"
)

// DAO errors. Callers match them with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrStorageFailure   = errors.New("storage failure")
	ErrInvalidInput     = errors.New("invalid input")
)

// ErrLastAdmin is returned when an operation would leave no admin user.
var ErrLastAdmin = fmt.Errorf("%w: cannot remove the last admin user", ErrPermissionDenied)
