package core

import (
	"errors"
	"fmt"
)

// Error codes for domain errors.
const (
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeAccessDenied   = "access_denied"
	ErrCodeNotFound       = "not_found"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeStorage        = "storage_error"
	ErrCodeSessionClosed  = "session_closed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal"
	ErrCodeUnsupportedVer = "unsupported_version"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAccessDenied    = errors.New("access denied")
	ErrNotFound        = errors.New("not found")
	ErrBadRequest      = errors.New("bad request")
	ErrSessionClosed   = errors.New("session closed")
	// ErrDeliveryFailed is a per-session transport failure during fan-out.
	// It never reaches the caller of a client action.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrStorage matches every *StorageError via errors.Is.
	ErrStorage = errors.New("storage error")
)

// StorageError reports a failed call to an external store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorage) true for any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// AsCoreError maps any error returned by the core to its wire form.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}

	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return coreError(ErrCodeUnauthorized, "authentication required")
	case errors.Is(err, ErrAccessDenied):
		return coreError(ErrCodeAccessDenied, "access denied")
	case errors.Is(err, ErrNotFound):
		return coreError(ErrCodeNotFound, err.Error())
	case errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrStorage):
		return coreError(ErrCodeStorage, "temporary storage failure, try again")
	case errors.Is(err, ErrSessionClosed):
		return coreError(ErrCodeSessionClosed, "session closed")
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
