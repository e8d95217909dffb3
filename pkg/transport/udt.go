package transport

import (
	"context"
	"io"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// rateConn wraps a net.Conn and throttles Write calls to the configured
// Mbps ceiling. No suitable Go UDT library is available, so the UDT
// variant's congestion-controller rate hint is modeled here as a
// token-bucket limiter wrapping an ordinary TCP connection rather than as
// a distinct wire protocol. This is a deliberate protocol-fidelity gap,
// not an oversight.
type rateConn struct {
	net.Conn
	limiter *rate.Limiter
}

func newRateConn(conn net.Conn, mbps int) net.Conn {
	if mbps <= 0 {
		return conn
	}
	bytesPerSec := rate.Limit(mbps * 1024 * 1024 / 8)
	burst := int(bytesPerSec)
	if burst < DefaultChunkSize {
		burst = DefaultChunkSize
	}
	return &rateConn{Conn: conn, limiter: rate.NewLimiter(bytesPerSec, burst)}
}

func (c *rateConn) Write(p []byte) (int, error) {
	if err := c.limiter.WaitN(context.Background(), len(p)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

var _ io.Writer = (*rateConn)(nil)

// dialStripe connects to a peer's stripe listener, applying the UDT rate
// hint when mbps > 0.
func dialStripe(ctx context.Context, addr string, mbps int) (net.Conn, error) {
	d := net.Dialer{Timeout: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tuneDataConn(conn)
	return newRateConn(conn, mbps), nil
}

// dialStripeRetry dials until it succeeds or ctx is done. There is no
// cross-network readiness signal for the dialing side, so a dial refused
// because the peer hasn't opened its listener yet is treated as
// transient and retried.
func dialStripeRetry(ctx context.Context, addr string, mbps int) (net.Conn, error) {
	backoff := 10 * time.Millisecond
	for {
		conn, err := dialStripe(ctx, addr, mbps)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}
