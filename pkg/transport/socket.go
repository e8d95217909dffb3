package transport

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfig returns a net.ListenConfig whose Control hook sets
// SO_REUSEADDR on the listening socket before bind (grounded on the
// socket-level unix.Setsockopt use in runZeroInc/go-tcpinfo and
// m-lab/tcp-info).
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// listenStripe opens a TCP listener for one stripe's data socket.
func listenStripe(ctx context.Context, addr string) (net.Listener, error) {
	return listenConfig().Listen(ctx, "tcp", addr)
}

// tuneDataConn disables Nagle's algorithm on a stripe's data connection.
// Non-TCP connections (e.g. a test pipe) are left untouched.
func tuneDataConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
