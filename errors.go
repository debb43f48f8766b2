package dynvoke

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a dispatch outcome that did not succeed.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "not_found"
	CodeBadRequest       ErrorCode = "bad_request"
	CodeMissingArguments ErrorCode = "missing_arguments"
	CodeServerError      ErrorCode = "server_error"
)

var (
	// ErrDuplicateRule is returned when a rule's name and type pair is already claimed by another rule.
	ErrDuplicateRule = errors.New("dynvoke: duplicate rule")

	// ErrRegistryBuilt is returned when the registry is modified after Build.
	ErrRegistryBuilt = errors.New("dynvoke: registry already built")

	// ErrCallConsumed is returned when a bound call is invoked a second time.
	ErrCallConsumed = errors.New("dynvoke: call already invoked")

	// ErrServerRunning is returned by Start when the server is not stopped.
	ErrServerRunning = errors.New("dynvoke: server already running")

	// ErrServerClosed is returned by Start after Close.
	ErrServerClosed = errors.New("dynvoke: server closed")
)

// Error is a classified dispatch failure.
// Message and Details are for logs only; clients see the fixed text of Code.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a new dispatch error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new dispatch error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetail returns a new Error with the key-value pair added to details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// HTTPStatus maps an ErrorCode to an HTTP status code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadRequest, CodeMissingArguments:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Text returns the fixed response body for the code.
func (c ErrorCode) Text() string {
	switch c {
	case CodeNotFound:
		return "Not Found"
	case CodeBadRequest:
		return "Bad Request"
	case CodeMissingArguments:
		return "Missing arguments"
	default:
		return "Server Error"
	}
}

// asError classifies err. Anything that is not already an *Error is a server error.
func asError(err error) *Error {
	if err == nil {
		return nil
	}
	var dErr *Error
	if errors.As(err, &dErr) {
		switch dErr.Code {
		case CodeNotFound, CodeBadRequest, CodeMissingArguments, CodeServerError:
			return dErr
		}
		return &Error{Code: CodeServerError, Message: dErr.Message, Details: dErr.Details}
	}
	return NewError(CodeServerError, err.Error())
}
