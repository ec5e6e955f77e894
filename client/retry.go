package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/transport"
)

// retryable reports whether err guarantees the request never left the client.
func retryable(err error) bool {
	var dialErr *transport.DialError
	return errors.As(err, &dialErr)
}

// withRetry runs attempt until it succeeds, fails with a non-retryable error, or the
// retries run out. The delay doubles after every attempt (exponential backoff).
func (c *Client) withRetry(ctx context.Context, method string, attempt func() ([]byte, error)) ([]byte, error) {
	data, err := attempt()
	for i := 0; i < c.maxRetries && err != nil && retryable(err); i++ {
		delay := c.baseDelay * time.Duration(1<<i)
		c.logger.Warn("retrying call",
			zap.String("method", method),
			zap.Int("attempt", i+1),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		data, err = attempt()
	}
	return data, err
}
