package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

// RateLimit rejects requests beyond r per second (token bucket with the given burst).
// Rejected requests fail with an InternalError and never reach the handler.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (any, error) {
			if !limiter.Allow() {
				return nil, rpcerror.New(rpcerror.KindInternal, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
