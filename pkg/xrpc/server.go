package xrpc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/dts-project/dts/pkg/log"
)

// Server dispatches inbound calls against a dynamic method table. Its
// lifecycle mirrors a typical gRPC server (NewServer / Listen+Serve /
// Stop) without the gRPC transport or mTLS — DTS authenticates with a
// cleartext shared password instead.
type Server struct {
	password string
	methods  map[string]HandlerFunc
	mw       Middleware

	mu  sync.Mutex
	lis net.Listener
}

// NewServer returns a Server requiring password for every call, with mws
// applied outermost-first to every registered method.
func NewServer(password string, mws ...Middleware) *Server {
	return &Server{
		password: password,
		methods:  make(map[string]HandlerFunc),
		mw:       Chain(mws...),
	}
}

// Register adds a method to the dispatch table.
func (s *Server) Register(method string, h HandlerFunc) {
	s.methods[method] = s.mw(method, h)
}

// Listen binds addr without serving, so a caller can read back the real
// address (useful when addr's port is 0).
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("xrpc: listen: %w", err)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listener's address. Valid only after Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Serve accepts connections on the already-bound listener until Stop is
// called. It blocks like grpc.Server.Serve.
func (s *Server) Serve() error {
	s.mu.Lock()
	lis := s.lis
	s.mu.Unlock()
	if lis == nil {
		return fmt.Errorf("xrpc: Serve called before Listen")
	}

	logger := log.WithComponent("xrpc")
	logger.Info().Str("addr", lis.Addr().String()).Msg("rpc server listening")

	for {
		conn, err := lis.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

// Start listens on addr and serves connections until Stop is called. It
// blocks like grpc.Server.Serve (pkg/api/server.go).
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener, causing Start to return.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		var req Request
		if err := readFrame(r, &req); err != nil {
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := writeFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.Password != s.password {
		return Response{OK: false, Message: "admission rejected: bad password"}
	}

	h, ok := s.methods[req.Method]
	if !ok {
		return Response{OK: false, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}

	results, err := h(ctx, req.Args)
	if err != nil {
		return Response{OK: false, Message: err.Error()}
	}
	return Response{OK: true, Results: results}
}
