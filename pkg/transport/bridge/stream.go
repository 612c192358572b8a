// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"

	bridgeerrors "github.com/stacklok/ssebridge/pkg/errors"
	"github.com/stacklok/ssebridge/pkg/telemetry"
	"github.com/stacklok/ssebridge/pkg/transport/framing"
	"github.com/stacklok/ssebridge/pkg/transport/session"
	"github.com/stacklok/ssebridge/pkg/transport/ssecommon"
)

// EmitFunc sends one event to a push stream client.
type EmitFunc func(*ssecommon.SSEMessage) error

// Stream announces s to the client with an endpoint event and then emits one
// message event per outbound frame, in order. It returns nil once the engine
// output ends. When ctx ends first, or emit fails, the client is considered
// gone and the session is torn down.
//
// A frame that cannot be decoded is reported with an error event and the
// stream continues.
func (b *Bridge) Stream(ctx context.Context, s *session.Session, emit EmitFunc) error {
	s.BeginStream()
	defer s.EndStream()

	if err := emit(ssecommon.NewEndpointMessage(s.ID())); err != nil {
		b.teardown(s, ErrClientDisconnected)
		return bridgeerrors.NewStreamWriteError("failed to send endpoint event", err)
	}

	stop := context.AfterFunc(ctx, func() {
		b.logger.Info("push stream disconnected", "session_id", s.ID())
		b.teardown(s, ErrClientDisconnected)
	})
	defer stop()

	dec := framing.NewDecoder(s.Outbound(), framing.WithMaxFrameSize(b.maxFrameSize))
	for frame, err := range dec.Frames() {
		if ctx.Err() != nil {
			return nil
		}

		msg := ssecommon.NewSSEMessage(ssecommon.EventMessage, frame)
		if err != nil {
			if !framing.IsDecodeError(err) {
				return bridgeerrors.NewStreamReadError("failed to read engine output", err)
			}
			b.logger.Warn("dropping malformed frame", "session_id", s.ID(), "error", err)
			b.metrics.FrameStreamed(ctx, telemetry.FrameMalformed)
			msg = ssecommon.NewSSEMessage(ssecommon.EventError,
				bridgeerrors.NewFrameDecodeError("malformed frame", err).Error())
		} else {
			b.metrics.FrameStreamed(ctx, telemetry.FrameForwarded)
		}

		if err := emit(msg); err != nil {
			b.teardown(s, ErrClientDisconnected)
			return bridgeerrors.NewStreamWriteError("failed to send event", err)
		}
	}
	return nil
}
