// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session provides per-client duplex sessions and the registry that
// maps session IDs to them.
//
// A Session owns two bounded pipes. The inbound pipe carries client bytes to
// the protocol engine and the outbound pipe carries engine output back to the
// client. The inbound write end is shared between concurrent deliveries, so
// every delivery must hold the session's inbound lock for its whole payload.
package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stacklok/ssebridge/pkg/transport/pipe"
)

// State is a session lifecycle state.
//
//revive:disable-next-line:exported
type State int32

const (
	// StateCreated means the session is registered but its engine has not started.
	// Inbound bytes written in this state are buffered.
	StateCreated State = iota
	// StateActive means the engine task is running against the session pipes.
	StateActive
	// StateClosed is terminal. The ID is dead and both pipes are closed.
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Origin records which path minted a session.
type Origin string

const (
	// OriginPush is a session created by opening the push stream.
	OriginPush Origin = "push"
	// OriginDelivery is a session created by a delivery that named no session.
	OriginDelivery Origin = "delivery"
)

// Session is one client's logical bidirectional conversation.
type Session struct {
	id      string
	origin  Origin
	created time.Time
	updated atomic.Int64 // unix nanoseconds

	ctx    context.Context
	cancel context.CancelFunc

	inR  *pipe.Reader
	inW  *pipe.Writer
	outR *pipe.Reader
	outW *pipe.Writer

	// inLock serializes deliveries. A weighted semaphore is used instead of a
	// mutex so a waiting delivery can give up when its request is canceled.
	inLock *semaphore.Weighted

	streams atomic.Int32

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

// New creates a session in StateCreated with pipes of the given capacity.
func New(id string, origin Origin, bufferSize int) *Session {
	inR, inW := pipe.New(bufferSize)
	outR, outW := pipe.New(bufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		id:      id,
		origin:  origin,
		created: now,
		ctx:     ctx,
		cancel:  cancel,
		inR:     inR,
		inW:     inW,
		outR:    outR,
		outW:    outW,
		inLock:  semaphore.NewWeighted(1),
		state:   StateCreated,
		done:    make(chan struct{}),
	}
	s.updated.Store(now.UnixNano())
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Origin returns how the session was created.
func (s *Session) Origin() Origin { return s.origin }

// CreatedAt returns the creation time of the session.
func (s *Session) CreatedAt() time.Time { return s.created }

// UpdatedAt returns the last time the session was used.
func (s *Session) UpdatedAt() time.Time {
	return time.Unix(0, s.updated.Load())
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.updated.Store(time.Now().UnixNano())
}

// Context is canceled when the session closes. Engines run under it.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the reason the session closed, or nil if it is open or ended cleanly.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Activate moves the session from StateCreated to StateActive and returns the
// engine's ends of the pipes: the inbound reader and the outbound writer.
func (s *Session) Activate() (io.Reader, io.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return nil, nil, ErrInvalidTransition
	}
	s.state = StateActive
	return s.inR, s.outW, nil
}

// Outbound returns the read end of the outbound pipe.
func (s *Session) Outbound() io.Reader { return s.outR }

// LockInbound acquires exclusive use of the inbound write end. It returns
// ctx.Err() if ctx ends first, or ErrSessionClosed if the session closes.
func (s *Session) LockInbound(ctx context.Context) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	if err := s.inLock.Acquire(ctx, 1); err != nil {
		return err
	}
	if s.State() == StateClosed {
		s.inLock.Release(1)
		return ErrSessionClosed
	}
	return nil
}

// UnlockInbound releases the lock taken by LockInbound.
func (s *Session) UnlockInbound() {
	s.inLock.Release(1)
}

// WriteInbound writes p into the inbound pipe. Callers must hold the inbound lock.
func (s *Session) WriteInbound(ctx context.Context, p []byte) (int, error) {
	s.Touch()
	return s.inW.WriteContext(ctx, p)
}

// BeginStream records that a push stream is draining the outbound pipe.
func (s *Session) BeginStream() {
	s.streams.Add(1)
	s.Touch()
}

// EndStream records that a push stream has ended.
func (s *Session) EndStream() {
	s.streams.Add(-1)
	s.Touch()
}

// Streaming reports whether any push stream is attached.
func (s *Session) Streaming() bool {
	return s.streams.Load() > 0
}

// Close moves the session to StateClosed, closes both pipes and cancels the
// session context. cause is recorded as the close reason; nil means a clean
// end. Only the first call has any effect; it reports whether it was that call.
func (s *Session) Close(cause error) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosed
	s.err = cause
	s.mu.Unlock()

	s.cancel()

	// Closing a write end releases a writer suspended on it, so this both ends
	// the streams for their readers and unblocks a delivery or an engine
	// stuck on a full buffer. Readers drain what is already buffered.
	_ = s.inW.Close()
	_ = s.outW.Close()

	close(s.done)
	return true
}
