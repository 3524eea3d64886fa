// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling for aegis.
//
// Errors are split into two classes: structural codes (an operation that can
// never become valid, such as an over-deep delegation chain) and everything
// else. Point-in-time invalidity (expiry, revocation, scope mismatch) is NOT
// an error anywhere in aegis; it is reported on verification result records.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies aegis errors for monitoring and front-end mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidKey indicates key material could not be decoded or used.
	CodeInvalidKey ErrorCode = "INVALID_KEY"

	// CodeSignatureInvalid indicates a signature failed verification.
	CodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"

	// CodeNotFound indicates a record was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeEmptyCapabilities indicates a grant was signed with no capabilities.
	CodeEmptyCapabilities ErrorCode = "EMPTY_CAPABILITIES"

	// CodeDelegationNotAllowed indicates a non-delegating grant has a child link.
	CodeDelegationNotAllowed ErrorCode = "DELEGATION_NOT_ALLOWED"

	// CodeDepthExceeded indicates a delegation or spawn chain is too deep.
	CodeDepthExceeded ErrorCode = "DEPTH_EXCEEDED"

	// CodeInvalidChain indicates malformed delegation chain linkage.
	CodeInvalidChain ErrorCode = "INVALID_CHAIN"

	// CodeExceedsCeiling indicates requested authority is wider than a ceiling.
	CodeExceedsCeiling ErrorCode = "EXCEEDS_CEILING"

	// CodeSpawnNotPermitted indicates the parent identity may not spawn.
	CodeSpawnNotPermitted ErrorCode = "SPAWN_NOT_PERMITTED"

	// CodeMaxChildrenExceeded indicates the parent's fan-out limit is reached.
	CodeMaxChildrenExceeded ErrorCode = "MAX_CHILDREN_EXCEEDED"

	// CodeStorage indicates a persistence error.
	CodeStorage ErrorCode = "STORAGE_ERROR"

	// CodeSerialization indicates a record could not be encoded or decoded.
	CodeSerialization ErrorCode = "SERIALIZATION_ERROR"
)

// AegisError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type AegisError struct {
	Code       ErrorCode
	Message    string
	Err        error
	Context    map[string]interface{}
	StatusCode int // For RPC/HTTP front-ends
}

// Error implements the error interface.
func (e *AegisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *AegisError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *AegisError) MarshalJSON() ([]byte, error) {
	payload := struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Err     string                 `json:"error,omitempty"`
		Context map[string]interface{} `json:"context,omitempty"`
	}{
		Code:    string(e.Code),
		Message: e.Message,
		Context: e.Context,
	}
	if e.Err != nil {
		payload.Err = e.Err.Error()
	}
	return json.Marshal(payload)
}

// New creates a new AegisError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *AegisError {
	return &AegisError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates a new AegisError with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *AegisError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *AegisError) WithContext(key string, value interface{}) *AegisError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the ErrorCode carried by err, or CodeInternal for
// errors that did not originate in aegis. Returns "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ae *AegisError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given aegis error code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsStructural reports whether err represents a request that can never
// become valid, as opposed to an operational failure.
func IsStructural(err error) bool {
	switch CodeOf(err) {
	case CodeEmptyCapabilities, CodeDelegationNotAllowed, CodeDepthExceeded,
		CodeInvalidChain, CodeExceedsCeiling, CodeSpawnNotPermitted,
		CodeMaxChildrenExceeded:
		return true
	}
	return false
}

// codeToStatusCode maps error codes to HTTP-style status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput, CodeInvalidKey, CodeEmptyCapabilities, CodeInvalidChain:
		return 400
	case CodeSignatureInvalid, CodeDelegationNotAllowed, CodeDepthExceeded,
		CodeExceedsCeiling, CodeSpawnNotPermitted, CodeMaxChildrenExceeded:
		return 403
	default:
		return 500
	}
}
