// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/ssebridge/pkg/logger"
)

// DefaultIdleTimeout is how long a session without a push stream may sit unused.
const DefaultIdleTimeout = 30 * time.Minute

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout sets the idle timeout. Zero disables reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.idleTimeout = d
	}
}

// WithLogger sets the logger used by the cleanup worker.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager is the process-wide registry from session ID to session.
// Lookups run in parallel; inserts and removes are exclusive. An ID that has
// been removed can never be registered again.
type Manager struct {
	sessions map[string]*Session
	removed  map[string]struct{}
	mu       sync.RWMutex

	idleTimeout time.Duration
	logger      *slog.Logger
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a registry and, when an idle timeout is set, starts the
// cleanup worker. Call Stop to end it.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		removed:     make(map[string]struct{}),
		idleTimeout: DefaultIdleTimeout,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Get()
	}
	if m.idleTimeout > 0 {
		go m.cleanupRoutine()
	}
	return m
}

func (m *Manager) cleanupRoutine() {
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.reapIdle(now)
		case <-m.stopCh:
			return
		}
	}
}

// Add registers s. It fails if the ID is empty, registered, or was
// registered before.
func (m *Manager) Add(s *Session) error {
	if s == nil || s.ID() == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID()]; exists {
		return fmt.Errorf("%w: %q", ErrSessionAlreadyExists, s.ID())
	}
	if _, dead := m.removed[s.ID()]; dead {
		return fmt.Errorf("%w: %q was used by a closed session", ErrSessionAlreadyExists, s.ID())
	}
	m.sessions[s.ID()] = s
	return nil
}

// Get looks up a session and marks it as used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.Touch()
	return s, true
}

// Remove unregisters id. It reports true only for the call that removed it.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	m.removed[id] = struct{}{}
	return true
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Range calls fn for each registered session until fn returns false. It works
// on a snapshot, so fn may call back into the Manager.
func (m *Manager) Range(fn func(*Session) bool) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

// reapIdle removes and closes sessions with no push stream that have not been
// used within the idle timeout. It returns the reaped IDs.
func (m *Manager) reapIdle(now time.Time) []string {
	cutoff := now.Add(-m.idleTimeout)

	var idle []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if !s.Streaming() && s.UpdatedAt().Before(cutoff) {
			delete(m.sessions, id)
			m.removed[id] = struct{}{}
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, s := range idle {
		s.Close(ErrIdleTimeout)
		ids = append(ids, s.ID())
		m.logger.Info("reaped idle session", "session_id", s.ID(), "idle_timeout", m.idleTimeout)
	}
	return ids
}

// Stop ends the cleanup worker. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}
