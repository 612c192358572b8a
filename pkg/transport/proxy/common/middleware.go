// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package common provides shared utilities for the HTTP proxy front ends.
package common

import (
	"net/http"
)

// MiddlewareFunction wraps an HTTP handler.
type MiddlewareFunction func(http.Handler) http.Handler

// ApplyMiddlewares applies a chain of middlewares to an HTTP handler.
// Middlewares are applied in reverse order (last middleware is applied first)
// so that the first middleware in the slice is the outermost handler.
func ApplyMiddlewares(handler http.Handler, middlewares ...MiddlewareFunction) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
