package testfiles

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")

	errDuplicateKey = errors.New("duplicate original filename")
)

// ValidationError is a user-correctable problem with a request. It matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// ConflictError reports an upload rejected because its original filename is
// already in use by another active test file.
type ConflictError struct {
	Resolution Resolution
	Message    string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// SameSprint reports whether the existing file lives in the target sprint,
// in which case the client may resubmit through the update route.
func (e *ConflictError) SameSprint() bool {
	return e.Resolution.Outcome == RejectSameSprint
}

func newConflict(name string, res Resolution) *ConflictError {
	if res.Outcome == RejectOtherSprint {
		return &ConflictError{
			Resolution: res,
			Message: fmt.Sprintf("A file named %q already exists in sprint %q and cannot be uploaded to another sprint",
				name, res.ExistingSprintName),
		}
	}
	return &ConflictError{
		Resolution: res,
		Message:    fmt.Sprintf("A file named %q already exists in this sprint, confirm to replace it", name),
	}
}

// isDuplicateKey recognises unique violations whether or not the dialect
// translated them to gorm.ErrDuplicatedKey.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
