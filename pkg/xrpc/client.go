package xrpc

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a connection to one peer's xrpc Server, reused across calls
// for the lifetime of a session.
type Client struct {
	password string

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to a peer's command address.
func Dial(addr, password string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("xrpc: dial %s: %w", addr, err)
	}
	return &Client{password: password, conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method with args and returns its result list. A non-OK
// response is surfaced as an error carrying the peer's message.
func (c *Client) Call(method string, args ...string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := Request{Password: c.password, Method: method, Args: args}
	if err := writeFrame(c.conn, req); err != nil {
		return nil, err
	}

	var resp Response
	if err := readFrame(c.r, &resp); err != nil {
		return nil, fmt.Errorf("xrpc: call %s: %w", method, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("xrpc: call %s: %s", method, resp.Message)
	}
	return resp.Results, nil
}
