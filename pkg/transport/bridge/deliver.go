// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	bridgeerrors "github.com/stacklok/ssebridge/pkg/errors"
	"github.com/stacklok/ssebridge/pkg/telemetry"
	"github.com/stacklok/ssebridge/pkg/transport/framing"
	"github.com/stacklok/ssebridge/pkg/transport/session"
)

// UnknownSize is passed as sizeHint when the body length is not known up front.
const UnknownSize int64 = -1

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

var terminator = []byte{framing.Terminator}

// Deliver writes body into the inbound pipe of session id as one frame and
// returns the ID of the session it wrote to. An empty id creates a new session.
//
// sizeHint is the declared body length, or UnknownSize. A hint over the limit
// is rejected before anything is written. The limit is also enforced on the
// bytes actually read. A delivery that fails after writing part of its body
// still ends with a terminator, so the partial run reaches the engine as its
// own frame and the next delivery starts clean.
func (b *Bridge) Deliver(ctx context.Context, id string, body io.Reader, sizeHint int64) (string, error) {
	var s *session.Session
	if id != "" {
		var ok bool
		s, ok = b.manager.Get(id)
		if !ok {
			b.metrics.DeliveryFinished(ctx, telemetry.OutcomeNotFound, 0)
			return id, notFound(id)
		}
	}

	if sizeHint > b.maxBodyBytes {
		b.logger.Warn("payload too large based on hint",
			"session_id", id, "body_size_hint", sizeHint, "limit", b.maxBodyBytes)
		b.metrics.DeliveryFinished(ctx, telemetry.OutcomePayloadTooLarge, 0)
		return id, tooLarge(sizeHint, b.maxBodyBytes)
	}

	if s == nil {
		var err error
		s, err = b.open(ctx, session.OriginDelivery)
		if err != nil {
			b.metrics.DeliveryFinished(ctx, telemetry.OutcomeWriteError, 0)
			return "", err
		}
		id = s.ID()
	}

	written, err := b.deliver(ctx, s, body)
	b.metrics.DeliveryFinished(ctx, outcome(err), written)
	if err != nil {
		return id, err
	}
	b.logger.Debug("delivery accepted", "session_id", id, "bytes", written)
	return id, nil
}

// deliver streams body into s while holding its inbound lock, so concurrent
// deliveries never interleave.
func (b *Bridge) deliver(ctx context.Context, s *session.Session, body io.Reader) (int64, error) {
	if err := s.LockInbound(ctx); err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			return 0, notFound(s.ID())
		}
		return 0, bridgeerrors.NewStreamReadError("delivery canceled while waiting for session", err)
	}
	defer s.UnlockInbound()

	bufp := chunkPool.Get().(*[]byte)
	defer chunkPool.Put(bufp)
	buf := *bufp

	var total, written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > b.maxBodyBytes {
				b.logger.Warn("payload too large during streaming",
					"session_id", s.ID(), "actual_body_size", total, "limit", b.maxBodyBytes)
				return written + b.endPartial(ctx, s, written), tooLarge(total, b.maxBodyBytes)
			}
			m, werr := s.WriteInbound(ctx, buf[:n])
			written += int64(m)
			if werr != nil {
				b.logger.Error("failed to write to session stream", "session_id", s.ID(), "error", werr)
				return written + b.endPartial(ctx, s, written), bridgeerrors.NewStreamWriteError("failed to write to session stream", werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			b.logger.Error("failed to read request body", "session_id", s.ID(), "error", rerr)
			return written + b.endPartial(ctx, s, written), bridgeerrors.NewStreamReadError("failed to read request body", rerr)
		}
	}

	if _, err := s.WriteInbound(ctx, terminator); err != nil {
		b.logger.Error("failed to terminate frame", "session_id", s.ID(), "error", err)
		return written, bridgeerrors.NewStreamWriteError("failed to terminate frame", err)
	}
	return written + 1, nil
}

// endPartial terminates an aborted delivery that already wrote bytes. It runs
// under the inbound lock and ignores cancellation of ctx, since the frame must
// be closed before another delivery may write. It returns the bytes written.
func (b *Bridge) endPartial(ctx context.Context, s *session.Session, written int64) int64 {
	if written == 0 {
		return 0
	}
	if _, err := s.WriteInbound(context.WithoutCancel(ctx), terminator); err != nil {
		b.logger.Warn("failed to terminate partial delivery", "session_id", s.ID(), "error", err)
		return 0
	}
	return 1
}

func notFound(id string) error {
	return bridgeerrors.NewSessionNotFoundError(fmt.Sprintf("session %q not found", id), session.ErrSessionNotFound)
}

func tooLarge(size, limit int64) error {
	return bridgeerrors.NewPayloadTooLargeError(fmt.Sprintf("payload of %d bytes exceeds limit of %d", size, limit), nil)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeAccepted
	case bridgeerrors.IsSessionNotFound(err):
		return telemetry.OutcomeNotFound
	case bridgeerrors.IsPayloadTooLarge(err):
		return telemetry.OutcomePayloadTooLarge
	case bridgeerrors.IsStreamRead(err):
		return telemetry.OutcomeReadError
	default:
		return telemetry.OutcomeWriteError
	}
}
