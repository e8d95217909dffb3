package xrpc

import "context"

// HandlerFunc implements one method of the dynamic method table: it takes
// the call's positional string arguments and returns its positional string
// results.
type HandlerFunc func(ctx context.Context, args []string) ([]string, error)

// Middleware wraps a HandlerFunc with cross-cutting behavior: recovery,
// logging, metrics.
type Middleware func(method string, next HandlerFunc) HandlerFunc

// Chain composes middlewares in the order given: the first middleware is
// outermost (runs first on the way in, last on the way out).
func Chain(mws ...Middleware) Middleware {
	return func(method string, next HandlerFunc) HandlerFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](method, next)
		}
		return next
	}
}
