// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the error taxonomy shared by the session bridge.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// Error types
const (
	// ErrSessionNotFound is returned when a delivery names an unknown or expired session
	ErrSessionNotFound = "session_not_found"

	// ErrPayloadTooLarge is returned when a delivery exceeds the body limit
	ErrPayloadTooLarge = "payload_too_large"

	// ErrStreamRead is returned when the request body cannot be read
	ErrStreamRead = "stream_read"

	// ErrStreamWrite is returned when bytes cannot be written into a session pipe
	ErrStreamWrite = "stream_write"

	// ErrFrameDecode is returned for a single malformed outbound frame
	ErrFrameDecode = "frame_decode"

	// ErrEngine is returned when the protocol engine of a session fails
	ErrEngine = "engine"

	// ErrInvalidArgument is returned when an invalid argument is provided
	ErrInvalidArgument = "invalid_argument"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// statusByType maps error types to the HTTP status reported to clients.
var statusByType = map[string]int{
	ErrSessionNotFound: http.StatusNotFound,
	ErrPayloadTooLarge: http.StatusRequestEntityTooLarge,
	ErrStreamRead:      http.StatusBadRequest,
	ErrStreamWrite:     http.StatusInternalServerError,
	ErrFrameDecode:     http.StatusUnprocessableEntity,
	ErrEngine:          http.StatusInternalServerError,
	ErrInvalidArgument: http.StatusBadRequest,
	ErrInternal:        http.StatusInternalServerError,
}

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code clients see for this error.
func (e *Error) HTTPStatus() int {
	if code, ok := statusByType[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewSessionNotFoundError creates a new session not found error
func NewSessionNotFoundError(message string, cause error) *Error {
	return NewError(ErrSessionNotFound, message, cause)
}

// NewPayloadTooLargeError creates a new payload too large error
func NewPayloadTooLargeError(message string, cause error) *Error {
	return NewError(ErrPayloadTooLarge, message, cause)
}

// NewStreamReadError creates a new stream read error
func NewStreamReadError(message string, cause error) *Error {
	return NewError(ErrStreamRead, message, cause)
}

// NewStreamWriteError creates a new stream write error
func NewStreamWriteError(message string, cause error) *Error {
	return NewError(ErrStreamWrite, message, cause)
}

// NewFrameDecodeError creates a new frame decode error
func NewFrameDecodeError(message string, cause error) *Error {
	return NewError(ErrFrameDecode, message, cause)
}

// NewEngineError creates a new engine error
func NewEngineError(message string, cause error) *Error {
	return NewError(ErrEngine, message, cause)
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsSessionNotFound checks if the error is a session not found error
func IsSessionNotFound(err error) bool {
	return isType(err, ErrSessionNotFound)
}

// IsPayloadTooLarge checks if the error is a payload too large error
func IsPayloadTooLarge(err error) bool {
	return isType(err, ErrPayloadTooLarge)
}

// IsStreamRead checks if the error is a stream read error
func IsStreamRead(err error) bool {
	return isType(err, ErrStreamRead)
}

// IsStreamWrite checks if the error is a stream write error
func IsStreamWrite(err error) bool {
	return isType(err, ErrStreamWrite)
}

// IsFrameDecode checks if the error is a frame decode error
func IsFrameDecode(err error) bool {
	return isType(err, ErrFrameDecode)
}

// IsEngine checks if the error is an engine error
func IsEngine(err error) bool {
	return isType(err, ErrEngine)
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return isType(err, ErrInvalidArgument)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}

// Code returns the HTTP status for err. Typed errors map through their type;
// anything else falls back to a code attached with httperr.WithCode, and
// finally to 500.
func Code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	if code := httperr.Code(err); code >= http.StatusBadRequest {
		return code
	}
	return http.StatusInternalServerError
}
