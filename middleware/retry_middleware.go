package middleware

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"framechan/message"
)

// RetryMiddleware re-runs next when it fails with an error retryable accepts,
// sleeping baseDelay, 2*baseDelay, 4*baseDelay... between attempts.
// A nil retryable means DefaultRetryable.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable func(error) bool, logger zerolog.Logger) Middleware {
	if retryable == nil {
		retryable = DefaultRetryable
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Message) (message.Message, error) {
			reply, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return reply, err
				}

				delay := baseDelay * time.Duration(1<<i)
				logger.Warn().Err(err).
					Int("attempt", i+1).
					Dur("backoff", delay).
					Str("method", req.Method()).
					Msg("retrying")

				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, errors.Join(err, ctx.Err())
				}
				reply, err = next(ctx, req)
			}
			return reply, err
		}
	}
}

// DefaultRetryable accepts connection-level failures: refused, reset, broken
// pipe, timeouts and a peer that hung up mid-exchange.
func DefaultRetryable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
