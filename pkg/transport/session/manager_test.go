// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(append([]Option{WithIdleTimeout(0)}, opts...)...)
	t.Cleanup(m.Stop)
	return m
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	s := New(NewID(), OriginPush, 16)
	require.NoError(t, m.Add(s))

	got, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Len())
}

func TestAddDuplicate(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	id := NewID()
	require.NoError(t, m.Add(New(id, OriginPush, 16)))

	err := m.Add(New(id, OriginPush, 16))
	assert.ErrorIs(t, err, ErrSessionAlreadyExists)
}

func TestAddEmptyID(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	assert.Error(t, m.Add(New("", OriginPush, 16)))
	assert.Error(t, m.Add(nil))
}

func TestRemoveExactlyOnce(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	s := New(NewID(), OriginPush, 16)
	require.NoError(t, m.Add(s))

	assert.True(t, m.Remove(s.ID()))
	assert.False(t, m.Remove(s.ID()))

	_, ok := m.Get(s.ID())
	assert.False(t, ok, "removed session should not be found")

	err := m.Add(New(s.ID(), OriginPush, 16))
	assert.ErrorIs(t, err, ErrSessionAlreadyExists, "a removed ID is never reused")
}

func TestGetUpdatesTimestamp(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	s := New(NewID(), OriginPush, 16)
	require.NoError(t, m.Add(s))

	t0 := s.UpdatedAt()
	time.Sleep(10 * time.Millisecond)
	_, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.True(t, s.UpdatedAt().After(t0), "UpdatedAt should advance on Get()")
}

func TestRange(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Add(New(NewID(), OriginPush, 16)))
	}

	count := 0
	m.Range(func(s *Session) bool {
		count++
		// Calling back into the manager from fn must not deadlock.
		m.Remove(s.ID())
		return true
	})
	assert.Equal(t, 5, count)
	assert.Zero(t, m.Len())

	require.NoError(t, m.Add(New(NewID(), OriginPush, 16)))
	require.NoError(t, m.Add(New(NewID(), OriginPush, 16)))
	visited := 0
	m.Range(func(*Session) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestReapIdle_ManualTrigger(t *testing.T) {
	t.Parallel()

	ttl := time.Minute
	m := NewManager(WithIdleTimeout(ttl))
	defer m.Stop()

	stale := New(NewID(), OriginDelivery, 16)
	streaming := New(NewID(), OriginPush, 16)
	fresh := New(NewID(), OriginDelivery, 16)
	for _, s := range []*Session{stale, streaming, fresh} {
		require.NoError(t, m.Add(s))
	}
	streaming.BeginStream()

	// Pretend two idle timeouts passed for the first two sessions.
	old := time.Now().Add(-2 * ttl).UnixNano()
	stale.updated.Store(old)
	streaming.updated.Store(old)

	reaped := m.reapIdle(time.Now())
	assert.Equal(t, []string{stale.ID()}, reaped)

	_, ok := m.Get(stale.ID())
	assert.False(t, ok, "idle session should have been reaped")
	assert.Equal(t, StateClosed, stale.State())
	assert.ErrorIs(t, stale.Err(), ErrIdleTimeout)

	_, ok = m.Get(streaming.ID())
	assert.True(t, ok, "session with an attached stream is never reaped")
	_, ok = m.Get(fresh.ID())
	assert.True(t, ok, "recently used session should remain")
}

func TestCleanupRoutineReaps(t *testing.T) {
	t.Parallel()

	m := NewManager(WithIdleTimeout(40 * time.Millisecond))
	defer m.Stop()

	s := New(NewID(), OriginDelivery, 16)
	require.NoError(t, m.Add(s))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup worker did not reap the idle session")
	}
	assert.Zero(t, m.Len())
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(WithIdleTimeout(time.Hour))
	assert.NotPanics(t, func() {
		m.Stop()
		m.Stop()
	})
}

func TestConcurrentRegistryOperations(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	const workers = 50
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := New(NewID(), OriginPush, 16)
			if !assert.NoError(t, m.Add(s), fmt.Sprintf("worker %d", i)) {
				return
			}
			got, ok := m.Get(s.ID())
			assert.True(t, ok)
			assert.Same(t, s, got)
			assert.True(t, m.Remove(s.ID()))
			_, ok = m.Get(s.ID())
			assert.False(t, ok)
			ids <- s.ID()
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "id issued twice")
		seen[id] = true
	}
	assert.Len(t, seen, workers)
	assert.Zero(t, m.Len())
}
