// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// Common session errors
var (
	// ErrSessionNotFound is returned when a session cannot be found
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyExists is returned when trying to register an ID that is already registered
	ErrSessionAlreadyExists = errors.New("session already exists")
	// ErrSessionClosed is returned by pipe operations on a session that has been torn down
	ErrSessionClosed = errors.New("session is closed")
	// ErrInvalidTransition is returned when a lifecycle transition is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrIdleTimeout is the close reason for sessions removed by the idle reaper
	ErrIdleTimeout = errors.New("session idle timeout")
	// ErrInvalidID is returned for identifiers that are not 32 lowercase hex characters
	ErrInvalidID = errors.New("invalid session ID")
)
