package errors

import (
	stderrors "errors"
	"net/http"
)

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// ValidationWithDetails creates a 400 validation error with details
func ValidationWithDetails(message string, details any) *AppError {
	return NewValidationError(message).WithDetails(details)
}

// NotFoundWithDetails creates a 404 Not Found error with details
func NotFoundWithDetails(code string, message string, details any) *AppError {
	return NewNotFoundError(code, message).WithDetails(details)
}

// UpstreamWithDetails creates a 502 error with details about the upstream failure
func UpstreamWithDetails(code string, message string, details any) *AppError {
	return NewBadGatewayError(code, message).WithDetails(details)
}

// Internal wraps a storage or programming failure as a 500 error. The
// underlying error is kept for logs only.
func Internal(message string, cause error) *AppError {
	return NewInternalServerError(CodeInternal, message).Wrap(cause)
}

// FromError converts a standard error to an AppError
// If the error is already an AppError, it is returned as-is
// Otherwise, it is wrapped as an internal server error
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		return appErr
	}

	return Internal("An unexpected error occurred", err)
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}
