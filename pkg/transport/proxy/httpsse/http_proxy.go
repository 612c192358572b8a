// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package httpsse serves the session bridge over HTTP: a Server-Sent Events
// push stream per session and POST deliveries addressed by session ID.
package httpsse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	bridgeerrors "github.com/stacklok/ssebridge/pkg/errors"
	"github.com/stacklok/ssebridge/pkg/logger"
	"github.com/stacklok/ssebridge/pkg/transport/bridge"
	"github.com/stacklok/ssebridge/pkg/transport/proxy/common"
	"github.com/stacklok/ssebridge/pkg/transport/ssecommon"
)

const (
	// SessionIDHeader carries the addressed or newly created session ID on
	// every push stream and delivery response.
	SessionIDHeader = "X-Session-Id"

	// DefaultKeepAliveInterval is how often an idle push stream gets a keep-alive comment.
	DefaultKeepAliveInterval = 30 * time.Second
)

// HTTPSSEProxy exposes a Bridge over HTTP.
//
//nolint:revive // Intentionally named HTTPSSEProxy despite package name
type HTTPSSEProxy struct {
	host        string
	port        int
	bridge      *bridge.Bridge
	middlewares []common.MiddlewareFunction

	// Optional Prometheus metrics handler
	prometheusHandler http.Handler

	keepAliveInterval time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewHTTPSSEProxy creates an HTTP front end for br listening on host:port.
// middlewares wrap the push stream and delivery routes only.
func NewHTTPSSEProxy(
	host string, port int, br *bridge.Bridge, prometheusHandler http.Handler, middlewares ...common.MiddlewareFunction,
) *HTTPSSEProxy {
	return &HTTPSSEProxy{
		host:              host,
		port:              port,
		bridge:            br,
		middlewares:       middlewares,
		prometheusHandler: prometheusHandler,
		keepAliveInterval: DefaultKeepAliveInterval,
	}
}

// SetKeepAliveInterval changes the keep-alive period. Non-positive values
// disable keep-alives. It must be called before Start.
func (p *HTTPSSEProxy) SetKeepAliveInterval(d time.Duration) {
	p.keepAliveInterval = d
}

// Handler returns the router serving every endpoint.
func (p *HTTPSSEProxy) Handler() http.Handler {
	r := chi.NewRouter()

	stream := common.ApplyMiddlewares(http.HandlerFunc(p.handleSSEConnection), p.middlewares...)
	deliver := common.ApplyMiddlewares(ErrorHandler(p.handlePostRequest), p.middlewares...)

	r.Method(http.MethodGet, ssecommon.HTTPSSEEndpoint, stream)
	r.Method(http.MethodPost, ssecommon.HTTPSSEEndpoint, deliver)
	r.Method(http.MethodPost, ssecommon.HTTPMessagesEndpoint, deliver)

	// Health and metrics bypass middlewares
	common.MountHealthCheck(r, http.HandlerFunc(p.handleHealth))
	common.MountMetrics(r, p.prometheusHandler)

	return r
}

// Start starts the HTTP server. It returns once the listener is bound.
func (p *HTTPSSEProxy) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", p.host, p.port))
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	server := common.NewHTTPServer(common.ServerConfig{
		Host:    p.host,
		Port:    p.port,
		Handler: p.Handler(),
	})
	server.Addr = listener.Addr().String()

	p.mu.Lock()
	p.server = server
	p.listener = listener
	p.mu.Unlock()

	go func() {
		logger.Infof("HTTP SSE bridge listening on %s", server.Addr)
		logger.Infof("SSE endpoint: http://%s%s", server.Addr, ssecommon.HTTPSSEEndpoint)
		logger.Infof("Delivery endpoint: http://%s%s?%s=<id>", server.Addr, ssecommon.HTTPSSEEndpoint, ssecommon.SessionIDParam)

		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the empty string before Start.
func (p *HTTPSSEProxy) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Stop tears down every session, which ends open push streams, and then
// shuts the HTTP server down.
func (p *HTTPSSEProxy) Stop(ctx context.Context) error {
	bridgeErr := p.bridge.Close(ctx)

	p.mu.Lock()
	server := p.server
	p.mu.Unlock()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			return errors.Join(bridgeErr, fmt.Errorf("failed to shut down HTTP server: %w", err))
		}
	}
	return bridgeErr
}

// handleSSEConnection opens a session and streams its events until either
// side goes away.
func (p *HTTPSSEProxy) handleSSEConnection(w http.ResponseWriter, r *http.Request) {
	flusher, err := common.GetFlusher(w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sess, err := p.bridge.Open(r.Context())
	if err != nil {
		logger.Errorf("Failed to open session: %v", err)
		code := bridgeerrors.Code(err)
		http.Error(w, http.StatusText(code), code)
		return
	}

	common.SetSSEHeaders(w)
	w.Header().Set(SessionIDHeader, sess.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Events and keep-alives share the response writer.
	var writeMu sync.Mutex
	write := func(s string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	if p.keepAliveInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(p.keepAliveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := write(ssecommon.KeepAliveComment); err != nil {
						cancel()
						return
					}
				}
			}
		}()
	}

	err = p.bridge.Stream(ctx, sess, func(m *ssecommon.SSEMessage) error {
		return write(m.ToSSEString())
	})
	cancel()
	wg.Wait()

	if err != nil {
		logger.Debugw("push stream ended", "session_id", sess.ID(), "error", err)
	}
}

// handlePostRequest writes the request body into the addressed session, or
// into a new session when no ID is given.
func (p *HTTPSSEProxy) handlePostRequest(w http.ResponseWriter, r *http.Request) error {
	id := r.URL.Query().Get(ssecommon.SessionIDParam)

	// ContentLength is -1 when unknown, which matches bridge.UnknownSize.
	id, err := p.bridge.Deliver(r.Context(), id, r.Body, r.ContentLength)
	if id != "" {
		w.Header().Set(SessionIDHeader, id)
	}
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusAccepted)
	if _, err := w.Write([]byte("Accepted")); err != nil {
		logger.Warnf("Warning: Failed to write response: %v", err)
	}
	return nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (p *HTTPSSEProxy) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := healthResponse{Status: "ok", Sessions: p.bridge.Sessions().Len()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warnf("Warning: Failed to write health response: %v", err)
	}
}
