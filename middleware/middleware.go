// Package middleware wraps request handling with cross-cutting behaviour.
//
// Middlewares follow the onion model: the first one passed to Chain is the outermost
// layer and sees the request first and the result last.
package middleware

import (
	"context"

	"mini-jsonrpc/message"
)

// HandlerFunc handles one decoded request and returns its result or failure.
// Errors that are not *rpcerror.Error are reported to the caller as InternalError.
type HandlerFunc func(ctx context.Context, req *message.Request) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines multiple middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
