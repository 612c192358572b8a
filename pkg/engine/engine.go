// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package engine defines the protocol engines a session runs. An engine
// consumes newline-terminated frames on its input and writes
// newline-terminated frames to its output until the input ends.
package engine

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
)

// Engine runs protocol logic over one session's duplex pipes.
//
//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks -source=engine.go Engine
type Engine interface {
	// Run blocks until in reaches EOF, ctx is canceled, or the engine fails.
	Run(ctx context.Context, in io.Reader, out io.Writer) error
}

// Func adapts a function to the Engine interface.
type Func func(ctx context.Context, in io.Reader, out io.Writer) error

// Run calls f.
func (f Func) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	return f(ctx, in, out)
}

type sessionIDKey struct{}

// WithSessionID returns a context carrying the session ID the engine serves.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session ID stored by WithSessionID.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}

// Engine names accepted by Lookup.
const (
	NameMCP  = "mcp"
	NameEcho = "echo"
)

var constructors = map[string]func(name, version string) Engine{
	NameMCP:  func(name, version string) Engine { return NewMCP(name, version) },
	NameEcho: func(string, string) Engine { return NewEcho() },
}

// Names returns the engine names Lookup accepts, sorted.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the engine registered under name. serverName and version
// identify the bridge to engines that report them.
func Lookup(name, serverName, version string) (Engine, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (expected one of %v)", name, Names())
	}
	return ctor(serverName, version), nil
}

// Valid reports whether name is a known engine.
func Valid(name string) bool {
	return slices.Contains(Names(), name)
}
