package middleware

import (
	"context"
	"fmt"

	"framechan/message"
)

// RecoverMiddleware turns a handler panic into an error so one bad request
// cannot take the connection goroutine down.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Message) (reply message.Message, err error) {
			defer func() {
				if r := recover(); r != nil {
					reply = nil
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}
