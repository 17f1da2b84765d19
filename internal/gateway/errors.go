package gateway

import (
	"fmt"
	"time"
)

// ErrorCode represents the type of gateway error.
type ErrorCode string

const (
	// ErrCodeConnect indicates a failure to open or authenticate the connection.
	ErrCodeConnect ErrorCode = "CONNECT_ERROR"
	// ErrCodeCall indicates a server-flagged request failure.
	ErrCodeCall ErrorCode = "CALL_ERROR"
	// ErrCodeTimeout indicates a request or chat exchange timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"
	// ErrCodeClosed indicates the client is not connected.
	ErrCodeClosed ErrorCode = "CONNECTION_CLOSED"
)

// GatewayError represents an error during gateway operations.
type GatewayError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// NewConnectError creates an error for connection or handshake failures.
func NewConnectError(message string, cause error) *GatewayError {
	return &GatewayError{Code: ErrCodeConnect, Message: message, Cause: cause}
}

// NewCallError creates an error for a server-flagged request failure.
func NewCallError(method, message string) *GatewayError {
	return &GatewayError{
		Code:    ErrCodeCall,
		Message: fmt.Sprintf("%s failed: %s", method, message),
	}
}

// NewCallTimeoutError creates an error for a request that received no
// response within the bound.
func NewCallTimeoutError(method string, timeout time.Duration) *GatewayError {
	return &GatewayError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("%s timed out after %v", method, timeout),
	}
}

// NewChatTimeoutError creates an error for a chat exchange that never
// completed within the bound.
func NewChatTimeoutError(sessionKey string, timeout time.Duration) *GatewayError {
	return &GatewayError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("chat on %s timed out after %v", sessionKey, timeout),
	}
}

// NewClosedError creates an error for operations on a closed client.
func NewClosedError() *GatewayError {
	return &GatewayError{Code: ErrCodeClosed, Message: "client is not connected"}
}

// IsTimeoutError checks if the error is a gateway timeout error.
func IsTimeoutError(err error) bool {
	if gwErr, ok := err.(*GatewayError); ok {
		return gwErr.Code == ErrCodeTimeout
	}
	return false
}

// IsCallError checks if the error is a server-flagged call failure.
func IsCallError(err error) bool {
	if gwErr, ok := err.(*GatewayError); ok {
		return gwErr.Code == ErrCodeCall
	}
	return false
}
