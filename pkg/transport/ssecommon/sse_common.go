// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ssecommon provides common types and utilities for Server-Sent Events (SSE)
// used between clients and the session bridge.
package ssecommon

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// HTTPSSEEndpoint serves the push stream (GET) and deliveries (POST)
	HTTPSSEEndpoint = "/sse"
	// HTTPMessagesEndpoint is an alias for deliveries
	HTTPMessagesEndpoint = "/messages"
	// SessionIDParam is the query parameter naming the target session
	SessionIDParam = "sessionId"
)

// Event types emitted on the push stream.
const (
	// EventEndpoint announces the session ID; always the first event
	EventEndpoint = "endpoint"
	// EventMessage carries one decoded outbound frame
	EventMessage = "message"
	// EventError reports one outbound frame that could not be decoded
	EventError = "error"
)

// KeepAliveComment is an SSE comment line that keeps idle connections open.
const KeepAliveComment = ": keep-alive\n\n"

// SSEMessage represents a Server-Sent Event message
type SSEMessage struct {
	// EventType is the type of event (e.g., "message", "endpoint")
	EventType string
	// Data is the event data
	Data string
	// CreatedAt is the time the message was created
	CreatedAt time.Time
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(eventType, data string) *SSEMessage {
	return &SSEMessage{
		EventType: eventType,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

// NewEndpointMessage creates the endpoint event for a session. Its data is the
// query string a client appends to the delivery URL.
func NewEndpointMessage(sessionID string) *SSEMessage {
	q := url.Values{}
	q.Set(SessionIDParam, sessionID)
	return NewSSEMessage(EventEndpoint, "?"+q.Encode())
}

// ToSSEString converts the message to an SSE-formatted string
func (m *SSEMessage) ToSSEString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("event: %s\n", m.EventType))

	// Each line of data gets its own data field
	for _, line := range strings.Split(m.Data, "\n") {
		sb.WriteString(fmt.Sprintf("data: %s\n", line))
	}

	sb.WriteString("\n")

	return sb.String()
}
