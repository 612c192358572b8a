// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/ssebridge/pkg/logger"
	"github.com/stacklok/ssebridge/pkg/transport/framing"
)

// Tool names registered by the MCP engine.
const (
	ToolEcho        = "echo"
	ToolSessionInfo = "session_info"
)

const (
	// anonymousSessionID names the MCP session when no bridge session is bound to the context.
	anonymousSessionID = "anonymous"

	notificationBufferSize = 100
)

// MCPOption configures an MCP engine.
type MCPOption func(*MCP)

// WithMCPTools registers extra tools on every session's server.
func WithMCPTools(tools ...server.ServerTool) MCPOption {
	return func(e *MCP) {
		e.tools = append(e.tools, tools...)
	}
}

// MCP serves the Model Context Protocol over a session's pipes.
type MCP struct {
	name    string
	version string
	tools   []server.ServerTool
}

// NewMCP returns an MCP engine that identifies itself as name/version.
func NewMCP(name, version string, opts ...MCPOption) *MCP {
	e := &MCP{name: name, version: version}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run implements Engine. Each run gets its own server and its own client
// session, so notifications only ever reach the session that caused them.
func (e *MCP) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	id, ok := SessionIDFromContext(ctx)
	if !ok {
		id = anonymousSessionID
	}

	srv := e.newServer()
	sess := newMCPSession(id)
	if err := srv.RegisterSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to register mcp session: %w", err)
	}
	defer srv.UnregisterSession(context.WithoutCancel(ctx), id)

	ctx, cancel := context.WithCancel(srv.WithContext(ctx, sess))
	w := &messageWriter{out: out}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.forward(ctx, w)
	}()

	err := serveMCP(ctx, srv, in, w)
	cancel()
	wg.Wait()
	if err == nil || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

type frameResult struct {
	frame string
	err   error
}

// serveMCP answers every inbound frame until the input ends or ctx is done.
func serveMCP(ctx context.Context, srv *server.MCPServer, in io.Reader, w *messageWriter) error {
	frames := make(chan frameResult)
	go func() {
		defer close(frames)
		for frame, err := range framing.NewDecoder(in).Frames() {
			select {
			case frames <- frameResult{frame: frame, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fr, ok := <-frames:
			if !ok {
				return nil
			}
			if fr.err != nil {
				if !framing.IsDecodeError(fr.err) {
					return fmt.Errorf("failed to read frame: %w", fr.err)
				}
				logger.Debugf("mcp engine: undecodable frame: %v", fr.err)
				if err := w.write(mcp.NewJSONRPCError(mcp.NewRequestId(nil), mcp.PARSE_ERROR, "Parse error", nil)); err != nil {
					return err
				}
				continue
			}

			resp := srv.HandleMessage(ctx, json.RawMessage(fr.frame))
			if resp == nil {
				continue
			}
			if err := w.write(resp); err != nil {
				return err
			}
		}
	}
}

func (e *MCP) newServer() *server.MCPServer {
	srv := server.NewMCPServer(e.name, e.version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(
		mcp.NewTool(ToolEcho,
			mcp.WithDescription("Echoes the input back"),
			mcp.WithString("input", mcp.Required(), mcp.Description("Text to echo")),
		),
		handleEcho,
	)
	srv.AddTool(
		mcp.NewTool(ToolSessionInfo,
			mcp.WithDescription("Reports the bridge session serving this connection"),
		),
		handleSessionInfo,
	)
	if len(e.tools) > 0 {
		srv.AddTools(e.tools...)
	}
	return srv
}

func handleEcho(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(input), nil
}

func handleSessionInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := SessionIDFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no session bound to this connection"), nil
	}
	return mcp.NewToolResultText(id), nil
}

// mcpSession is the server.ClientSession of one bridge session.
type mcpSession struct {
	id            string
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool
}

var _ server.ClientSession = (*mcpSession)(nil)

func newMCPSession(id string) *mcpSession {
	return &mcpSession{
		id:            id,
		notifications: make(chan mcp.JSONRPCNotification, notificationBufferSize),
	}
}

func (s *mcpSession) Initialize()       { s.initialized.Store(true) }
func (s *mcpSession) Initialized() bool { return s.initialized.Load() }
func (s *mcpSession) SessionID() string { return s.id }

func (s *mcpSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

// forward writes queued notifications until ctx is done.
func (s *mcpSession) forward(ctx context.Context, w *messageWriter) {
	for {
		select {
		case n := <-s.notifications:
			if err := w.write(n); err != nil {
				logger.Warnw("failed to write mcp notification", "session_id", s.id, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// messageWriter writes newline-terminated JSON messages. Responses and
// notifications share it.
type messageWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *messageWriter) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, framing.Terminator)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
