package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

// Logging records the method, duration and outcome of every request.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("notification", req.IsNotification()),
			}
			if err != nil {
				logger.Warn("request failed", append(fields,
					zap.Stringer("kind", rpcerror.KindOf(err)), zap.Error(err))...)
				return result, err
			}
			logger.Debug("request handled", fields...)
			return result, nil
		}
	}
}
