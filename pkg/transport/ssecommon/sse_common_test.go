// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package ssecommon

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSSEMessage(t *testing.T) {
	t.Parallel()

	msg := NewSSEMessage(EventMessage, "test data")

	require.NotNil(t, msg)
	assert.Equal(t, EventMessage, msg.EventType)
	assert.Equal(t, "test data", msg.Data)
	assert.WithinDuration(t, time.Now(), msg.CreatedAt, time.Second)
}

func TestNewEndpointMessage(t *testing.T) {
	t.Parallel()

	msg := NewEndpointMessage("0123456789abcdef0123456789abcdef")
	assert.Equal(t, EventEndpoint, msg.EventType)
	assert.Equal(t, "?sessionId=0123456789abcdef0123456789abcdef", msg.Data)
	assert.Equal(t,
		"event: endpoint\ndata: ?sessionId=0123456789abcdef0123456789abcdef\n\n",
		msg.ToSSEString())
}

func TestSSEMessage_ToSSEString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		eventType      string
		data           string
		expectedOutput string
	}{
		{
			name:      "simple message",
			eventType: "message",
			data:      "Hello, World!",
			expectedOutput: "event: message\n" +
				"data: Hello, World!\n" +
				"\n",
		},
		{
			name:      "multiline data",
			eventType: "multiline",
			data:      "Line 1\nLine 2\nLine 3",
			expectedOutput: "event: multiline\n" +
				"data: Line 1\n" +
				"data: Line 2\n" +
				"data: Line 3\n" +
				"\n",
		},
		{
			name:      "empty data",
			eventType: "empty",
			data:      "",
			expectedOutput: "event: empty\n" +
				"data: \n" +
				"\n",
		},
		{
			name:      "JSON-RPC frame",
			eventType: "message",
			data:      `{"jsonrpc":"2.0","id":1,"result":{}}`,
			expectedOutput: "event: message\n" +
				`data: {"jsonrpc":"2.0","id":1,"result":{}}` + "\n" +
				"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := NewSSEMessage(tt.eventType, tt.data).ToSSEString()
			assert.Equal(t, tt.expectedOutput, result)

			lines := strings.Split(result, "\n")
			assert.True(t, strings.HasPrefix(lines[0], "event: "), "First line should start with 'event: '")

			dataLines := 0
			for _, line := range lines {
				if strings.HasPrefix(line, "data: ") {
					dataLines++
				}
			}
			assert.Equal(t, len(strings.Split(tt.data, "\n")), dataLines)
			assert.Equal(t, "", lines[len(lines)-1])
			assert.Equal(t, "", lines[len(lines)-2])
		})
	}
}

func TestSSEMessage_EdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		eventType string
		data      string
	}{
		{"empty event type", "", "some data"},
		{"event type with spaces", "my event", "some data"},
		{"very long data", "long", strings.Repeat("A", 10000)},
		{"unicode data", "unicode", "Hello 世界 🌍 émojis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := NewSSEMessage(tt.eventType, tt.data).ToSSEString()
			assert.NotEmpty(t, result)
			assert.Contains(t, result, fmt.Sprintf("event: %s\n", tt.eventType))
			assert.Contains(t, result, tt.data)
		})
	}
}
