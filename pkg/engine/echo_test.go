// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func runEcho(t *testing.T, input string) []wireResponse {
	t.Helper()

	var out bytes.Buffer
	require.NoError(t, NewEcho().Run(context.Background(), strings.NewReader(input), &out))

	var responses []wireResponse
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var resp wireResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &resp), "engine output %q must be JSON", sc.Text())
		assert.Equal(t, "2.0", resp.Version)
		responses = append(responses, resp)
	}
	return responses
}

func TestEcho_Ping(t *testing.T) {
	t.Parallel()

	responses := runEcho(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	require.Len(t, responses, 1)
	assert.Equal(t, "1", string(responses[0].ID))
	assert.Nil(t, responses[0].Error)
	assert.JSONEq(t, `"pong"`, string(responses[0].Result))
}

func TestEcho_EchoesParams(t *testing.T) {
	t.Parallel()

	input := `{"jsonrpc":"2.0","id":"a","method":"tools/list","params":{"x":1}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"noargs"}` + "\n"
	responses := runEcho(t, input)
	require.Len(t, responses, 2)

	assert.Equal(t, `"a"`, string(responses[0].ID))
	assert.JSONEq(t, `{"x":1}`, string(responses[0].Result))
	assert.Equal(t, "2", string(responses[1].ID))
	assert.JSONEq(t, `null`, string(responses[1].Result))
}

func TestEcho_IgnoresNotificationsAndBlankLines(t *testing.T) {
	t.Parallel()

	input := "\n" + `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n\n" +
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`
	responses := runEcho(t, input)
	require.Len(t, responses, 1, "only the call is answered, including an unterminated final frame")
	assert.Equal(t, "3", string(responses[0].ID))
}

func TestEcho_ParseErrors(t *testing.T) {
	t.Parallel()

	input := "not json\n" + string([]byte{0xff, 0xfe}) + "\n" + `{"jsonrpc":"2.0","id":4,"method":"ping"}` + "\n"
	responses := runEcho(t, input)
	require.Len(t, responses, 3)

	for _, resp := range responses[:2] {
		require.NotNil(t, resp.Error)
		assert.Equal(t, int64(-32700), resp.Error.Code)
	}
	assert.Nil(t, responses[2].Error)
}

func TestEcho_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := NewEcho().Run(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var called bool
	var e Engine = Func(func(_ context.Context, in io.Reader, out io.Writer) error {
		called = true
		_, err := io.Copy(out, in)
		return err
	})

	var out bytes.Buffer
	require.NoError(t, e.Run(context.Background(), strings.NewReader("abc"), &out))
	assert.True(t, called)
	assert.Equal(t, "abc", out.String())
}

func TestLookup(t *testing.T) {
	t.Parallel()

	e, err := Lookup(NameEcho, "ssebridge", "dev")
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, e)

	e, err = Lookup(NameMCP, "ssebridge", "dev")
	require.NoError(t, err)
	assert.IsType(t, &MCP{}, e)

	_, err = Lookup("bogus", "ssebridge", "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine")

	assert.Equal(t, []string{NameEcho, NameMCP}, Names())
	assert.True(t, Valid(NameMCP))
	assert.False(t, Valid(""))
}

func TestSessionIDContext(t *testing.T) {
	t.Parallel()

	_, ok := SessionIDFromContext(context.Background())
	assert.False(t, ok)

	id, ok := SessionIDFromContext(WithSessionID(context.Background(), "abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

