package apinet

import (
	"errors"
	"fmt"
)

// Protocol error codes carried in error replies. They follow HTTP status
// semantics so the text framing can use them as status codes.
const (
	CodeBadRequest int32 = 400
	CodeNotFound   int32 = 404
	CodeInternal   int32 = 500
)

var (
	// ErrInvalidBindAddress is returned by Init and ParseBindAddress.
	ErrInvalidBindAddress = errors.New("apinet: invalid bind address")
	// ErrNilHost is returned by Init without a host.
	ErrNilHost = errors.New("apinet: nil host")
	// ErrNotInitialized is returned by Start before Init.
	ErrNotInitialized = errors.New("apinet: server not initialized")
	// ErrDuplicateAction is returned when two actions share a name, ignoring case.
	ErrDuplicateAction = errors.New("apinet: duplicate action")
	// ErrInvalidAction is returned for an action without a name or handler.
	ErrInvalidAction = errors.New("apinet: invalid action")
	// ErrControllerType is returned when a controller is not the type its
	// method expects.
	ErrControllerType = errors.New("apinet: unexpected controller type")
	// ErrControllerCreate wraps a failing or panicking controller factory.
	ErrControllerCreate = errors.New("apinet: controller construction failed")
)

// ApiError is returned by handlers to choose the code of the error reply.
// Any other error is reported with CodeInternal.
type ApiError struct {
	Code    int32
	Message string
}

// Error implements error.
func (e *ApiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// NewApiError returns an ApiError with a formatted message.
func NewApiError(code int32, format string, args ...any) *ApiError {
	return &ApiError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// errorCode extracts the reply code and text for err.
func errorCode(err error) (int32, string) {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message
	}

	return CodeInternal, err.Error()
}
