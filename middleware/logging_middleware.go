package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"framechan/message"
)

// LoggingMiddleware logs method, client id, duration and any failure.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Message) (message.Message, error) {
			start := time.Now()
			reply, err := next(ctx, req)

			var ev *zerolog.Event
			switch {
			case err != nil:
				ev = logger.Warn().Err(err)
			case reply.Err() != "":
				ev = logger.Warn().Str("error", reply.Err())
			default:
				ev = logger.Debug()
			}
			ev.Str("method", req.Method()).
				Str("client_id", req.ClientID()).
				Dur("duration", time.Since(start)).
				Msg("handled")
			return reply, err
		}
	}
}
