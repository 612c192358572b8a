// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package framing splits a byte stream into newline-delimited message frames.
package framing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"unicode/utf8"
)

const (
	// Terminator ends every frame on the wire.
	Terminator byte = '\n'

	// DefaultMaxFrameSize bounds a single frame.
	DefaultMaxFrameSize = 16 << 20

	readBufferSize = 1 << 12
)

var (
	// ErrInvalidUTF8 is the cause of a DecodeError for a frame that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("frame is not valid UTF-8")
	// ErrFrameTooLarge is the cause of a DecodeError for a frame over the size limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// DecodeError reports a single malformed frame. It does not end the stream:
// the next call to Next resumes after the frame's terminator.
type DecodeError struct {
	// Index is the zero-based position of the frame in the stream.
	Index int
	// Size is the raw length of the frame in bytes.
	Size int
	// Err is the reason the frame was rejected.
	Err error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame %d (%d bytes): %v", e.Index, e.Size, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a per-frame DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxFrameSize sets the largest accepted frame. Non-positive values keep the default.
func WithMaxFrameSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxFrameSize = n
		}
	}
}

// Decoder reads frames from an underlying reader. Incomplete trailing data
// is kept across reads until its terminator arrives.
type Decoder struct {
	r            *bufio.Reader
	maxFrameSize int
	index        int
	err          error
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:            bufio.NewReaderSize(r, readBufferSize),
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next frame without its terminator. Blank frames are
// skipped. A per-frame failure is returned as a *DecodeError and the decoder
// stays usable. Any other error, including io.EOF, is final.
func (d *Decoder) Next() (string, error) {
	for {
		if d.err != nil {
			return "", d.err
		}

		raw, size, tooLarge, err := d.readFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) || size == 0 {
				d.err = err
				return "", err
			}
			// Unterminated remainder at end of stream is still a frame.
			d.err = io.EOF
		}

		if tooLarge {
			idx := d.index
			d.index++
			return "", &DecodeError{Index: idx, Size: size, Err: ErrFrameTooLarge}
		}

		raw = bytes.TrimSuffix(raw, []byte{'\r'})
		if len(raw) == 0 {
			continue
		}

		idx := d.index
		d.index++
		if !utf8.Valid(raw) {
			return "", &DecodeError{Index: idx, Size: size, Err: ErrInvalidUTF8}
		}
		return string(raw), nil
	}
}

// readFrame collects bytes up to the next terminator. Frames over the limit
// are consumed and discarded so decoding can resume after them.
func (d *Decoder) readFrame() (frame []byte, size int, tooLarge bool, err error) {
	for {
		chunk, rerr := d.r.ReadSlice(Terminator)
		size += len(chunk)
		if !tooLarge {
			if size > d.maxFrameSize+1 {
				tooLarge = true
				frame = nil
			} else {
				frame = append(frame, chunk...)
			}
		}
		switch {
		case rerr == nil:
			return bytes.TrimSuffix(frame, []byte{Terminator}), size, tooLarge, nil
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		default:
			return frame, size, tooLarge, rerr
		}
	}
}

// Frames returns a lazy sequence of frames. Per-frame DecodeErrors are yielded
// alongside an empty frame and iteration continues. The sequence ends silently
// at io.EOF, or after yielding any other read error.
func (d *Decoder) Frames() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			frame, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(frame, err) {
				return
			}
			if err != nil && !IsDecodeError(err) {
				return
			}
		}
	}
}
