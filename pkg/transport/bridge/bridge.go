// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridge connects HTTP push streams and deliveries to per-session
// protocol engines.
//
// Every session runs one engine task against its duplex pipes. A push stream
// drains the engine's output as SSE events; deliveries write request bodies
// into the engine's input, one newline-terminated frame per delivery.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/stacklok/ssebridge/pkg/engine"
	bridgeerrors "github.com/stacklok/ssebridge/pkg/errors"
	"github.com/stacklok/ssebridge/pkg/logger"
	"github.com/stacklok/ssebridge/pkg/telemetry"
	"github.com/stacklok/ssebridge/pkg/transport/framing"
	"github.com/stacklok/ssebridge/pkg/transport/pipe"
	"github.com/stacklok/ssebridge/pkg/transport/session"
)

const (
	// DefaultMaxBodyBytes is the largest accepted delivery body.
	DefaultMaxBodyBytes int64 = 1 << 22

	// DefaultBufferSize is the capacity of each session pipe.
	DefaultBufferSize = pipe.DefaultCapacity

	chunkSize = 32 << 10
)

var (
	// ErrBridgeClosed is returned by Open and Deliver after Close.
	ErrBridgeClosed = errors.New("bridge is closed")
	// ErrClientDisconnected is the close reason of a session whose push stream went away.
	ErrClientDisconnected = errors.New("push stream disconnected")
)

// Close reasons recorded in metrics.
const (
	reasonEngineExit   = "engine_exit"
	reasonEngineError  = "engine_error"
	reasonDisconnected = "client_disconnected"
	reasonIdle         = "idle_timeout"
	reasonShutdown     = "shutdown"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithMaxBodyBytes sets the delivery body limit. Non-positive values keep the default.
func WithMaxBodyBytes(n int64) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxBodyBytes = n
		}
	}
}

// WithBufferSize sets the capacity of each session pipe. Non-positive values keep the default.
func WithBufferSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithMaxFrameSize bounds a single outbound frame.
func WithMaxFrameSize(n int) Option {
	return func(b *Bridge) {
		b.maxFrameSize = n
	}
}

// WithManager sets the session registry. The bridge stops it on Close.
func WithManager(m *session.Manager) Option {
	return func(b *Bridge) {
		b.manager = m
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// Bridge owns the session registry and the engine tasks of every session.
type Bridge struct {
	engine       engine.Engine
	manager      *session.Manager
	metrics      *telemetry.Metrics
	logger       *slog.Logger
	maxBodyBytes int64
	bufferSize   int
	maxFrameSize int

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Bridge that runs eng for every session.
func New(eng engine.Engine, opts ...Option) *Bridge {
	b := &Bridge{
		engine:       eng,
		maxBodyBytes: DefaultMaxBodyBytes,
		bufferSize:   DefaultBufferSize,
		maxFrameSize: framing.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get()
	}
	if b.manager == nil {
		b.manager = session.NewManager(session.WithLogger(b.logger))
	}
	if b.metrics == nil {
		b.metrics = telemetry.NewNoopMetrics()
	}
	return b
}

// Sessions returns the session registry.
func (b *Bridge) Sessions() *session.Manager { return b.manager }

// MaxBodyBytes returns the delivery body limit.
func (b *Bridge) MaxBodyBytes() int64 { return b.maxBodyBytes }

// Open creates and registers a push session and starts its engine.
func (b *Bridge) Open(ctx context.Context) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.open(ctx, session.OriginPush)
}

func (b *Bridge) open(ctx context.Context, origin session.Origin) (*session.Session, error) {
	if b.closed.Load() {
		return nil, bridgeerrors.NewInternalError("cannot open session", ErrBridgeClosed)
	}

	s := session.New(session.NewID(), origin, b.bufferSize)
	if err := b.manager.Add(s); err != nil {
		s.Close(err)
		return nil, bridgeerrors.NewInternalError("failed to register session", err)
	}
	if b.closed.Load() {
		b.teardown(s, ErrBridgeClosed)
		return nil, bridgeerrors.NewInternalError("cannot open session", ErrBridgeClosed)
	}

	in, out, err := s.Activate()
	if err != nil {
		b.manager.Remove(s.ID())
		s.Close(err)
		return nil, bridgeerrors.NewInternalError("failed to activate session", err)
	}

	b.metrics.SessionOpened(ctx, string(origin))
	b.logger.Info("session opened", "session_id", s.ID(), "origin", origin)

	b.wg.Add(1)
	go b.run(s, in, out)
	return s, nil
}

// run drives the engine of s and tears the session down when it returns.
func (b *Bridge) run(s *session.Session, in io.Reader, out io.Writer) {
	defer b.wg.Done()

	ctx := engine.WithSessionID(s.Context(), s.ID())
	err := b.engine.Run(ctx, in, out)

	var cause error
	if err != nil && s.Context().Err() == nil {
		cause = bridgeerrors.NewEngineError(fmt.Sprintf("engine for session %s failed", s.ID()), err)
		b.logger.Error("engine failed", "session_id", s.ID(), "error", err)
	}
	b.teardown(s, cause)

	reason := closeReason(s.Err())
	b.metrics.SessionClosed(context.Background(), reason)
	b.logger.Info("session closed", "session_id", s.ID(), "reason", reason)
}

// teardown unregisters s and closes it. Both steps are idempotent, so every
// path that ends a session may call it.
func (b *Bridge) teardown(s *session.Session, cause error) {
	b.manager.Remove(s.ID())
	s.Close(cause)
}

func closeReason(err error) string {
	switch {
	case err == nil:
		return reasonEngineExit
	case errors.Is(err, ErrClientDisconnected):
		return reasonDisconnected
	case errors.Is(err, session.ErrIdleTimeout):
		return reasonIdle
	case errors.Is(err, ErrBridgeClosed):
		return reasonShutdown
	default:
		return reasonEngineError
	}
}

// Close tears down every session, stops the registry and waits for the
// engine tasks to finish or ctx to end.
func (b *Bridge) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.manager.Range(func(s *session.Session) bool {
			b.teardown(s, ErrBridgeClosed)
			return true
		})
		b.manager.Stop()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for engines to stop: %w", ctx.Err())
	}
}
