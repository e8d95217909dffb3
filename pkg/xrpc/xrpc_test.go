package xrpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, password string, mws ...Middleware) (*Server, string) {
	t.Helper()
	s := NewServer(password, mws...)
	s.Register("echo", func(ctx context.Context, args []string) ([]string, error) {
		return args, nil
	})
	s.Register("fail", func(ctx context.Context, args []string) ([]string, error) {
		return nil, errors.New("boom")
	})
	s.Register("panics", func(ctx context.Context, args []string) ([]string, error) {
		panic("oh no")
	})

	require.NoError(t, s.Listen("127.0.0.1:0"))
	addr := s.Addr()

	go s.Serve()
	t.Cleanup(func() { s.Stop() })

	return s, addr
}

func TestCallRoundTrip(t *testing.T) {
	_, addr := startTestServer(t, "secret")

	c, err := Dial(addr, "secret")
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Call("echo", "a", "b", "c")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, res)
}

func TestCallBadPasswordRejected(t *testing.T) {
	_, addr := startTestServer(t, "secret")

	c, err := Dial(addr, "wrong")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call("echo", "x")
	require.Error(t, err)
}

func TestCallUnknownMethod(t *testing.T) {
	_, addr := startTestServer(t, "secret")

	c, err := Dial(addr, "secret")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call("doesNotExist")
	require.Error(t, err)
}

func TestCallHandlerErrorSurfaced(t *testing.T) {
	_, addr := startTestServer(t, "secret")

	c, err := Dial(addr, "secret")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call("fail")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestCallPanicRecoveredAsProtocolViolation(t *testing.T) {
	_, addr := startTestServer(t, "secret", RecoverMiddleware())

	c, err := Dial(addr, "secret")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call("panics")
	require.Error(t, err)
}

func TestMultipleCallsOnOneConnection(t *testing.T) {
	_, addr := startTestServer(t, "secret")

	c, err := Dial(addr, "secret")
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		res, err := c.Call("echo", "ping")
		require.NoError(t, err)
		require.Equal(t, []string{"ping"}, res)
	}
}

func TestChainOrdering(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(method string, next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, args []string) ([]string, error) {
				order = append(order, name+":in")
				res, err := next(ctx, args)
				order = append(order, name+":out")
				return res, err
			}
		}
	}
	h := Chain(mark("a"), mark("b"))("m", func(ctx context.Context, args []string) ([]string, error) {
		order = append(order, "handler")
		return nil, nil
	})
	_, _ = h(context.Background(), nil)
	require.Equal(t, []string{"a:in", "b:in", "handler", "b:out", "a:out"}, order)
}
