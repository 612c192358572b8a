// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/ssebridge/pkg/transport/pipe"
)

func collect(t *testing.T, d *Decoder) ([]string, []error) {
	t.Helper()
	var frames []string
	var errs []error
	for frame, err := range d.Frames() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frames = append(frames, frame)
	}
	return frames, errs
}

func TestDecoder_Next(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single frame",
			input: "{\"op\":\"pong\"}\n",
			want:  []string{`{"op":"pong"}`},
		},
		{
			name:  "multiple frames",
			input: "one\ntwo\nthree\n",
			want:  []string{"one", "two", "three"},
		},
		{
			name:  "blank lines are skipped",
			input: "\n\none\n\n\ntwo\n",
			want:  []string{"one", "two"},
		},
		{
			name:  "carriage return is stripped",
			input: "one\r\ntwo\r\n",
			want:  []string{"one", "two"},
		},
		{
			name:  "unterminated remainder at EOF",
			input: "one\ntwo",
			want:  []string{"one", "two"},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frames, errs := collect(t, NewDecoder(strings.NewReader(tt.input)))
			assert.Empty(t, errs)
			assert.Equal(t, tt.want, frames)
		})
	}
}

func TestDecoder_SplitReads(t *testing.T) {
	t.Parallel()

	// OneByteReader delivers the stream one byte at a time, so every frame
	// arrives split across many reads.
	d := NewDecoder(iotest.OneByteReader(strings.NewReader("partial frame\nsecond\n")))
	frames, errs := collect(t, d)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"partial frame", "second"}, frames)
}

func TestDecoder_FramesAcrossPipeWrites(t *testing.T) {
	t.Parallel()

	r, w := pipe.New(8)
	go func() {
		for _, chunk := range []string{`{"a"`, `:1}`, "\n{\"b\":", "2}\n", `{"c":3}`, "\n"} {
			_, _ = w.Write([]byte(chunk))
		}
		_ = w.Close()
	}()

	frames, errs := collect(t, NewDecoder(r))
	assert.Empty(t, errs)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, frames)
}

func TestDecoder_InvalidUTF8IsPerFrame(t *testing.T) {
	t.Parallel()

	d := NewDecoder(strings.NewReader("good\n\xff\xfe\nafter\n"))

	frame, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "good", frame)

	_, err = d.Next()
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Index)

	frame, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, "after", frame)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_MaxFrameSize(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 10000)
	d := NewDecoder(strings.NewReader("ok\n"+long+"\nnext\n"), WithMaxFrameSize(100))

	frames, errs := collect(t, d)
	assert.Equal(t, []string{"ok", "next"}, frames)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrFrameTooLarge)
}

func TestDecoder_ReadErrorIsFinal(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	d := NewDecoder(io.MultiReader(strings.NewReader("one\n"), iotest.ErrReader(boom)))

	frames, errs := collect(t, d)
	assert.Equal(t, []string{"one"}, frames)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.False(t, IsDecodeError(errs[0]))

	_, err := d.Next()
	assert.ErrorIs(t, err, boom)
}
