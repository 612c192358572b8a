// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pipe provides a bounded, one-directional in-memory byte pipe.
//
// Unlike io.Pipe, which hands each Write directly to a Read, a pipe created by
// New buffers up to its capacity. Writers suspend only while the buffer is full
// and readers suspend only while it is empty, which gives natural backpressure
// between a producer and a consumer running on different goroutines.
package pipe

import (
	"context"
	"io"
	"sync"
)

// DefaultCapacity is the buffer size used when New is called with a
// non-positive capacity.
const DefaultCapacity = 1 << 12

// pipe is the shared state behind a Reader and a Writer.
type pipe struct {
	mu   sync.Mutex
	buf  []byte
	head int // index of the first buffered byte
	size int // number of buffered bytes

	werr error // set once the write side is closed
	rerr error // set once the read side is closed

	// readable and writable carry edge notifications. Both have capacity one,
	// and a waiter always re-checks state under mu after waking.
	readable chan struct{}
	writable chan struct{}
}

// New creates a pipe with the given capacity and returns its two ends.
func New(capacity int) (*Reader, *Writer) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &pipe{
		buf:      make([]byte, capacity),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
	return &Reader{p: p}, &Writer{p: p}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *pipe) read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		p.mu.Lock()
		if p.rerr != nil {
			p.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if p.size > 0 {
			n := p.copyOut(b)
			p.mu.Unlock()
			notify(p.writable)
			return n, nil
		}
		if p.werr != nil {
			err := p.werr
			p.mu.Unlock()
			return 0, err
		}
		p.mu.Unlock()
		<-p.readable
	}
}

// copyOut moves buffered bytes into b. Callers hold mu.
func (p *pipe) copyOut(b []byte) int {
	n := 0
	for n < len(b) && p.size > 0 {
		end := p.head + p.size
		if end > len(p.buf) {
			end = len(p.buf)
		}
		c := copy(b[n:], p.buf[p.head:end])
		n += c
		p.head = (p.head + c) % len(p.buf)
		p.size -= c
	}
	if p.size == 0 {
		p.head = 0
	}
	return n
}

// copyIn moves as much of b as fits into the buffer. Callers hold mu.
func (p *pipe) copyIn(b []byte) int {
	n := 0
	for n < len(b) && p.size < len(p.buf) {
		tail := (p.head + p.size) % len(p.buf)
		end := len(p.buf)
		if tail < p.head {
			end = p.head
		}
		c := copy(p.buf[tail:end], b[n:])
		n += c
		p.size += c
	}
	return n
}

func (p *pipe) write(ctx context.Context, b []byte) (int, error) {
	n := 0
	for {
		p.mu.Lock()
		if p.werr != nil {
			p.mu.Unlock()
			return n, io.ErrClosedPipe
		}
		if p.rerr != nil {
			err := p.rerr
			p.mu.Unlock()
			return n, err
		}
		c := p.copyIn(b[n:])
		n += c
		p.mu.Unlock()
		if c > 0 {
			notify(p.readable)
		}
		if n == len(b) {
			return n, nil
		}
		select {
		case <-p.writable:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

func (p *pipe) closeWrite(err error) {
	if err == nil {
		err = io.EOF
	}
	p.mu.Lock()
	if p.werr == nil {
		p.werr = err
	}
	p.mu.Unlock()
	notify(p.readable)
	notify(p.writable)
}

func (p *pipe) closeRead(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	p.mu.Lock()
	if p.rerr == nil {
		p.rerr = err
	}
	p.mu.Unlock()
	notify(p.writable)
	notify(p.readable)
}

// Reader is the read end of a pipe. It is owned by a single consumer.
type Reader struct {
	p *pipe
}

// Read reads up to len(b) buffered bytes. It suspends while the pipe is empty
// and the write end is open. Once the write end is closed and the buffer is
// drained, Read returns io.EOF or the error passed to CloseWithError.
func (r *Reader) Read(b []byte) (int, error) {
	return r.p.read(b)
}

// Close closes the read end. Pending and future writes fail with
// io.ErrClosedPipe.
func (r *Reader) Close() error {
	return r.CloseWithError(nil)
}

// CloseWithError closes the read end; pending and future writes return err.
func (r *Reader) CloseWithError(err error) error {
	r.p.closeRead(err)
	return nil
}

// Buffered returns the number of bytes waiting to be read.
func (r *Reader) Buffered() int {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.p.size
}

// Writer is the write end of a pipe. Concurrent writers must be serialized by
// the caller; the pipe only guarantees ordering for one writer at a time.
type Writer struct {
	p *pipe
}

// Write writes all of b, suspending while the buffer is full.
func (w *Writer) Write(b []byte) (int, error) {
	return w.p.write(context.Background(), b)
}

// WriteContext is Write with cancellation. If ctx ends while the writer is
// suspended, it returns the number of bytes already accepted and ctx.Err().
func (w *Writer) WriteContext(ctx context.Context, b []byte) (int, error) {
	return w.p.write(ctx, b)
}

// Close closes the write end. Readers drain the buffer and then see io.EOF.
// Close may race with a suspended Write, which then fails with io.ErrClosedPipe.
func (w *Writer) Close() error {
	return w.CloseWithError(nil)
}

// CloseWithError closes the write end; readers see err after draining. A nil
// err is treated as io.EOF. Only the first close takes effect.
func (w *Writer) CloseWithError(err error) error {
	w.p.closeWrite(err)
	return nil
}

// Available returns the free space in the buffer.
func (w *Writer) Available() int {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return len(w.p.buf) - w.p.size
}
