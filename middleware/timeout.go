package middleware

import (
	"context"
	"time"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

type outcome struct {
	result any
	err    error
}

// Timeout bounds how long a handler may run. The handler's context is cancelled at the
// deadline and the caller gets an InternalError; a handler that ignores its context keeps
// running in the background until it returns.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, req)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, rpcerror.New(rpcerror.KindInternal, "request timed out")
			}
		}
	}
}
