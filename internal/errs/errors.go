package errs

import (
	"errors"
	"fmt"
	"net/http"
)

/*
Error taxonomy shared by the store, the coordinator and the HTTP layer.

  NotFoundError     -> note or version absent (404)
  ValidationError   -> malformed input, sanitizing/cleaning fault (400)
  StorageError      -> database unreachable or write failed (503)
  CorruptStateError -> stored replicated state cannot be loaded (500, never masked)
*/

// ErrMissingNoteID is returned when an operation needs a note id and got none.
var ErrMissingNoteID = errors.New("note id is required")

// NotFoundError reports an absent note or version.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NotFound builds a NotFoundError for a note.
func NotFound(id string) error {
	return &NotFoundError{Resource: "note", ID: id}
}

// VersionNotFound builds a NotFoundError for a version snapshot.
func VersionNotFound(noteID string, version int) error {
	return &NotFoundError{Resource: "version", ID: fmt.Sprintf("%s@%d", noteID, version)}
}

// ValidationError reports input the write path refuses to persist.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + e.Reason
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", msg, e.Err)
	}
	return "invalid input: " + msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError without an underlying cause.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError for operation op. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// CorruptStateError reports stored replicated state that cannot be applied.
// It is kept distinct from NotFoundError so operators can tell data loss from absence.
type CorruptStateError struct {
	NoteID string
	Err    error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt replicated state for note %s: %v", e.NoteID, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

func IsCorrupt(err error) bool {
	var target *CorruptStateError
	return errors.As(err, &target)
}

// Status maps an error onto an HTTP status and a stable machine-readable code.
func Status(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case IsValidation(err), errors.Is(err, ErrMissingNoteID):
		return http.StatusBadRequest, "invalid_input"
	case IsCorrupt(err):
		return http.StatusInternalServerError, "corrupt_state"
	case IsStorage(err):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
