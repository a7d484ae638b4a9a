// Package middleware wraps message handlers in the onion model:
//
//	Chain(A, B, C)(h) → A(B(C(h)))
//	A.before → B.before → C.before → h → C.after → B.after → A.after
//
// The same HandlerFunc shape serves both ends: the server wraps its method
// router, the client wraps its network round trip.
package middleware

import (
	"context"

	"framechan/message"
)

type HandlerFunc func(ctx context.Context, req message.Message) (message.Message, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one; the first one given runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
