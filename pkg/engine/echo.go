// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/jsonrpc2"

	"github.com/stacklok/ssebridge/pkg/logger"
	"github.com/stacklok/ssebridge/pkg/transport/framing"
)

// MethodPing is answered with "pong" by the echo engine.
const MethodPing = "ping"

// Echo is a JSON-RPC diagnostics engine. Every call is answered with its own
// params, except ping, which is answered with "pong".
type Echo struct{}

// NewEcho returns an echo engine.
func NewEcho() *Echo { return &Echo{} }

// Run implements Engine.
func (*Echo) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	dec := framing.NewDecoder(in)
	for frame, err := range dec.Frames() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if framing.IsDecodeError(err) {
				if werr := writeMessage(out, parseErrorResponse()); werr != nil {
					return werr
				}
				continue
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		resp, err := handleFrame(frame)
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		if err := writeMessage(out, resp); err != nil {
			return err
		}
	}
	return nil
}

func handleFrame(frame string) (*jsonrpc2.Response, error) {
	msg, err := jsonrpc2.DecodeMessage([]byte(frame))
	if err != nil {
		logger.Debugf("echo engine: undecodable frame: %v", err)
		return parseErrorResponse(), nil
	}

	req, ok := msg.(*jsonrpc2.Request)
	if !ok || !req.IsCall() {
		// Notifications and stray responses get no answer.
		return nil, nil
	}

	var result any = req.Params
	if req.Method == MethodPing {
		result = "pong"
	} else if len(req.Params) == 0 {
		result = json.RawMessage("null")
	}
	resp, err := jsonrpc2.NewResponse(req.ID, result, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build response: %w", err)
	}
	return resp, nil
}

func parseErrorResponse() *jsonrpc2.Response {
	resp, _ := jsonrpc2.NewResponse(jsonrpc2.ID{}, nil, jsonrpc2.ErrParse)
	return resp
}

func writeMessage(out io.Writer, msg jsonrpc2.Message) error {
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, framing.Terminator)
	if _, err := out.Write(data); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
