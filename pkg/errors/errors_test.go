// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/toolhive-core/httperr"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrStreamRead,
				Message: "reading body",
				Cause:   errors.New("unexpected EOF"),
			},
			want: "stream_read: reading body: unexpected EOF",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrSessionNotFound,
				Message: "session abc",
			},
			want: "session_not_found: session abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := NewStreamWriteError("writing", cause)
	assert.Same(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, NewInternalError("no cause", nil).Unwrap())
}

func TestConstructorsAndStatus(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")

	tests := []struct {
		name        string
		constructor func(string, error) *Error
		checker     func(error) bool
		wantType    string
		wantStatus  int
	}{
		{"SessionNotFound", NewSessionNotFoundError, IsSessionNotFound, ErrSessionNotFound, http.StatusNotFound},
		{"PayloadTooLarge", NewPayloadTooLargeError, IsPayloadTooLarge, ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"StreamRead", NewStreamReadError, IsStreamRead, ErrStreamRead, http.StatusBadRequest},
		{"StreamWrite", NewStreamWriteError, IsStreamWrite, ErrStreamWrite, http.StatusInternalServerError},
		{"FrameDecode", NewFrameDecodeError, IsFrameDecode, ErrFrameDecode, http.StatusUnprocessableEntity},
		{"Engine", NewEngineError, IsEngine, ErrEngine, http.StatusInternalServerError},
		{"InvalidArgument", NewInvalidArgumentError, IsInvalidArgument, ErrInvalidArgument, http.StatusBadRequest},
		{"Internal", NewInternalError, IsInternal, ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.constructor("test message", cause)
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, "test message", err.Message)
			assert.Same(t, cause, err.Cause)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
			assert.Equal(t, tt.wantStatus, Code(err))

			assert.True(t, tt.checker(err))
			assert.True(t, tt.checker(fmt.Errorf("wrapped: %w", err)), "checkers see through wrapping")
			assert.False(t, tt.checker(errors.New("plain")))
		})
	}
}

func TestErrorTypeCheckers_Mismatch(t *testing.T) {
	t.Parallel()

	err := NewPayloadTooLargeError("too big", nil)
	assert.False(t, IsSessionNotFound(err))
	assert.False(t, IsStreamRead(err))
	assert.True(t, IsPayloadTooLarge(err))
}

func TestCode_FallsBackToHTTPErr(t *testing.T) {
	t.Parallel()

	err := httperr.WithCode(errors.New("method not allowed"), http.StatusMethodNotAllowed)
	assert.Equal(t, http.StatusMethodNotAllowed, Code(err))

	unknown := NewError("something_else", "msg", nil)
	assert.Equal(t, http.StatusInternalServerError, Code(unknown))
}
