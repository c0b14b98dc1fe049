package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies failures surfaced by the B2 API and the transport
// underneath it. The policy stack keys its recovery decisions off the kind:
// only KindAuth and KindInvalidHash are retried automatically.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindInvalidHash
	KindTransient
	KindCapExceeded
	KindNotFound
	KindBadRequest
	KindConflict
	KindForbidden
	KindCancelled
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "Authentication"
	case KindInvalidHash:
		return "InvalidHash"
	case KindTransient:
		return "Transient"
	case KindCapExceeded:
		return "CapExceeded"
	case KindNotFound:
		return "NotFound"
	case KindBadRequest:
		return "BadRequest"
	case KindConflict:
		return "Conflict"
	case KindForbidden:
		return "Forbidden"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// B2Error represents an error returned by the B2 service, decoded from the
// JSON error envelope {status, code, message} and annotated with the
// operation context that produced it.
type B2Error struct {
	Op      string    `json:"-"`
	Status  int       `json:"status"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"-"`

	Bucket  string `json:"-"`
	File    string `json:"-"`
	Attempt int    `json:"-"`
	Offset  int64  `json:"-"` // byte offset reached when a transfer fails mid-stream
}

// Error implements the error interface
func (e *B2Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("b2 %s: %s (status %d, code %q)", e.Op, e.Message, e.Status, e.Code))

	if e.Bucket != "" {
		parts = append(parts, fmt.Sprintf("bucket=%s", e.Bucket))
	}
	if e.File != "" {
		parts = append(parts, fmt.Sprintf("file=%s", e.File))
	}
	if e.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}
	if e.Offset > 0 {
		parts = append(parts, fmt.Sprintf("offset=%d", e.Offset))
	}

	return strings.Join(parts, " ")
}

// Retryable reports whether the policy stack recovers from this error
// automatically. Transient faults deliberately surface to the caller.
func (e *B2Error) Retryable() bool {
	return e.Kind == KindAuth || e.Kind == KindInvalidHash
}

// WithBucket adds bucket context to the error
func (e *B2Error) WithBucket(bucket string) *B2Error {
	e.Bucket = bucket
	return e
}

// WithFile adds file context to the error
func (e *B2Error) WithFile(file string) *B2Error {
	e.File = file
	return e
}

// WithAttempt records the policy attempt number that observed the error
func (e *B2Error) WithAttempt(attempt int) *B2Error {
	e.Attempt = attempt
	return e
}

// WithOffset records the byte offset reached before the failure
func (e *B2Error) WithOffset(offset int64) *B2Error {
	e.Offset = offset
	return e
}

// NewB2Error creates a B2Error classified from the service status and code
func NewB2Error(op string, status int, code, message string) *B2Error {
	return &B2Error{
		Op:      op,
		Status:  status,
		Code:    code,
		Message: message,
		Kind:    ClassifyCode(status, code),
	}
}

// NewKindError creates a B2Error with an explicit kind for locally detected
// conditions (hash mismatches on download bodies, rejected inputs).
func NewKindError(op string, kind ErrorKind, message string) *B2Error {
	return &B2Error{
		Op:      op,
		Message: message,
		Kind:    kind,
	}
}

// ClassifyCode maps a service status and error code onto the error taxonomy.
// The code wins over the status where both are present; a bare 401 is still
// an authentication failure even without a recognized code.
func ClassifyCode(status int, code string) ErrorKind {
	switch code {
	case "bad_auth_token", "expired_auth_token", "unauthorized":
		return KindAuth
	case "bad_digest":
		return KindInvalidHash
	case "cap_exceeded", "storage_cap_exceeded", "transaction_cap_exceeded":
		return KindCapExceeded
	case "not_found", "no_such_file", "file_not_present":
		return KindNotFound
	case "bad_request", "bad_bucket_id", "invalid_bucket_id", "out_of_range":
		return KindBadRequest
	case "duplicate_bucket_name", "conflict":
		return KindConflict
	case "access_denied":
		return KindForbidden
	case "service_unavailable", "too_many_requests", "request_timeout":
		return KindTransient
	}

	switch {
	case status == 401:
		return KindAuth
	case status == 403:
		return KindForbidden
	case status == 404:
		return KindNotFound
	case status == 408 || status == 429 || status >= 500:
		return KindTransient
	case status == 409:
		return KindConflict
	case status >= 400:
		return KindBadRequest
	}

	return KindUnknown
}

// KindOf extracts the error kind from any error in the chain. Cancellation
// and transport-level faults that never reached the service are classified
// here so the policy stack and callers see a single taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var b2err *B2Error
	if errors.As(err, &b2err) {
		return b2err.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"no route to host",
		"broken pipe",
		"unexpected eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return KindTransient
		}
	}

	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error for %s: %s (got %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value any) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}
