package core

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports malformed input caught before any network call.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	if len(err.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(err.Fields))
	for _, f := range err.Fields {
		msgs = append(msgs, f.Field+": "+f.Error)
	}
	return strings.Join(msgs, "; ")
}

// InvalidStateError is returned when an action targets an object that is not in the required status.
type InvalidStateError struct {
	Op     string
	ID     interface{}
	Status string
	Reason string
}

func NewInvalidStateError(op string, id interface{}, status, reason string) error {
	return &InvalidStateError{Op: op, ID: id, Status: status, Reason: reason}
}

func (err InvalidStateError) Error() string {
	msg := fmt.Sprintf("%s %v: invalid state %q", err.Op, err.ID, err.Status)
	if err.Reason != "" {
		msg += ": " + err.Reason
	}
	return msg
}

// NetworkError covers transport failures, timeouts and non-2xx responses.
// It is always recoverable by retrying.
type NetworkError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
	timeout    bool
}

func NewNetworkError(op string, statusCode int, msg string, err error) *NetworkError {
	return &NetworkError{Op: op, StatusCode: statusCode, Message: msg, Err: err}
}

func NewTimeoutError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Message: "request timed out", Err: err, timeout: true}
}

func (err NetworkError) Error() string {
	var b strings.Builder
	b.WriteString(err.Op)
	if err.StatusCode != 0 {
		fmt.Fprintf(&b, ": %d %s", err.StatusCode, http.StatusText(err.StatusCode))
	}
	if err.Message != "" {
		b.WriteString(": " + err.Message)
	}
	if err.Err != nil && err.StatusCode == 0 {
		b.WriteString(": " + err.Err.Error())
	}
	return b.String()
}

func (err NetworkError) Unwrap() error { return err.Err }

func (err NetworkError) Timeout() bool { return err.timeout }

// RecordError is one rejected record of an import.
type RecordError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// PartialImportError reports an import that succeeded only for a subset of its records.
// It is a result, not a failure: the operator decides whether to continue.
type PartialImportError struct {
	Imported int
	Total    int
	Errors   []RecordError
}

func (err PartialImportError) Error() string {
	return fmt.Sprintf("%d of %d records imported, with %d errors", err.Imported, err.Total, len(err.Errors))
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

func IsValidation(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

func IsInvalidState(err error) bool {
	_, ok := errors.Cause(err).(*InvalidStateError)
	return ok
}

func IsNetwork(err error) bool {
	_, ok := AsNetwork(err)
	return ok
}

func AsNetwork(err error) (*NetworkError, bool) {
	nerr, ok := errors.Cause(err).(*NetworkError)
	return nerr, ok
}

// StatusCode returns the HTTP status carried by a NetworkError, 0 otherwise.
func StatusCode(err error) int {
	if nerr, ok := AsNetwork(err); ok {
		return nerr.StatusCode
	}
	return 0
}
