// Package tools implements the MCP tool surface: the search and fetch
// tools, their argument validation, response rendering, and the
// governance wrapping (identity, rate limiting, usage accounting) that
// runs around every invocation.
package tools

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes surfaced to MCP clients.
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	// ErrCodeRateLimited is the custom code for governance denials.
	ErrCodeRateLimited = -32001
)

// Stable error_code strings written to the usage logs.
const (
	errorCodeRateLimited = "RATE_LIMIT_EXCEEDED"
	errorCodeNotFound    = "NOT_FOUND"
)

// RPCError is a structured protocol error with a stable numeric code.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates a -32602 error with a descriptive message.
func NewInvalidParamsError(msg string) *RPCError {
	return &RPCError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewRateLimitError creates the custom -32001 governance denial.
func NewRateLimitError(msg string) *RPCError {
	return &RPCError{Code: ErrCodeRateLimited, Message: msg}
}

// NewInternalError creates a generic -32603 error. The underlying cause
// is logged, never surfaced.
func NewInternalError() *RPCError {
	return &RPCError{Code: ErrCodeInternalError, Message: "internal server error"}
}

// AsRPCError extracts an RPCError from err, or wraps err as an internal
// error when it is not one.
func AsRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewInternalError()
}
