package xrpc

import (
	"context"
	"fmt"

	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/log"
	"github.com/dts-project/dts/pkg/metrics"
)

// RecoverMiddleware converts a panic inside a handler into
// ErrProtocolViolation instead of taking down the daemon, matching the
// wire layer's rule that a handler failure always folds into the OK/ERR
// pair and never propagates across the RPC boundary.
func RecoverMiddleware() Middleware {
	return func(method string, next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, args []string) (res []string, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: method %s panicked: %v", dtserr.ErrProtocolViolation, method, r)
				}
			}()
			return next(ctx, args)
		}
	}
}

// LoggingMiddleware logs each call's method, argument count, and outcome at
// debug level, component-scoped to "xrpc".
func LoggingMiddleware() Middleware {
	logger := log.WithComponent("xrpc")
	return func(method string, next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, args []string) ([]string, error) {
			res, err := next(ctx, args)
			ev := logger.Debug().Str("method", method).Int("nargs", len(args))
			if err != nil {
				ev.Err(err).Msg("call failed")
			} else {
				ev.Msg("call ok")
			}
			return res, err
		}
	}
}

// MetricsMiddleware records a call-duration observation per method.
func MetricsMiddleware() Middleware {
	return func(method string, next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, args []string) ([]string, error) {
			timer := metrics.NewTimer()
			res, err := next(ctx, args)
			timer.ObserveDuration(metrics.RPCCallDuration.WithLabelValues(method))
			if err != nil {
				metrics.RPCCallErrors.WithLabelValues(method).Inc()
			}
			return res, err
		}
	}
}
