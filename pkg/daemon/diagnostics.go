package daemon

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/xrpc"
	"github.com/rs/zerolog"
)

// registerDiagnosticHandlers wires the liveness/debug RPC group: cheap
// round-trip probes an operator or monitoring script can call without
// touching any queue state, plus a fault-injection hook for drills.
func (d *Daemon) registerDiagnosticHandlers() {
	d.server.Register("ping", d.handlePing)
	d.server.Register("pingstr", d.handlePingstr)
	d.server.Register("pingarray", d.handlePingarray)
	d.server.Register("pingsleep", d.handlePingsleep)
	d.server.Register("remotePing", d.handleRemotePing)
	d.server.Register("setDbg", d.handleSetDbg)
	d.server.Register("unsetDbg", d.handleUnsetDbg)
	d.server.Register("testFault", d.handleTestFault)
}

func (d *Daemon) handlePing(ctx context.Context, args []string) ([]string, error) {
	return []string{"pong"}, nil
}

// handlePingstr echoes back whatever single string it was sent, verifying
// the RPC path preserves argument content exactly.
func (d *Daemon) handlePingstr(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: pingstr wants 1 arg, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	return []string{args[0]}, nil
}

// handlePingarray echoes back an arbitrary-length argument list, for
// verifying multi-value RPC framing.
func (d *Daemon) handlePingarray(ctx context.Context, args []string) ([]string, error) {
	return args, nil
}

// handlePingsleep blocks for the requested duration before replying, for
// exercising RPC call timeouts.
func (d *Daemon) handlePingsleep(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: pingsleep wants 1 arg, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: pingsleep: bad duration %q", dtserr.ErrProtocolViolation, args[0])
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []string{"pong"}, nil
}

// handleRemotePing asks another node to answer a ping, verifying this
// node's xrpc client path and the named node's reachability in one call.
func (d *Daemon) handleRemotePing(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: remotePing wants 1 arg, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	node, ok := d.cfg.Node(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %q", dtserr.ErrInvalidQueue, args[0])
	}
	cl, err := xrpc.Dial(node.Addr(), d.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", dtserr.ErrTransient, node.Addr(), err)
	}
	defer cl.Close()
	return cl.Call("ping")
}

func (d *Daemon) handleSetDbg(ctx context.Context, args []string) ([]string, error) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	d.logger.Info().Msg("debug logging enabled via rpc")
	return []string{"ok"}, nil
}

func (d *Daemon) handleUnsetDbg(ctx context.Context, args []string) ([]string, error) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	d.logger.Info().Msg("debug logging disabled via rpc")
	return []string{"ok"}, nil
}

// handleTestFault deliberately returns one of the named typed errors, so
// operators can drill alerting and retry paths without waiting for a real
// failure to occur.
func (d *Daemon) handleTestFault(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: testFault wants 1 arg, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	switch strings.ToLower(args[0]) {
	case "transient":
		return nil, fmt.Errorf("%w: injected by testFault", dtserr.ErrTransient)
	case "admissionrejected", "admission":
		return nil, fmt.Errorf("%w: injected by testFault", dtserr.ErrAdmissionRejected)
	case "protocolviolation", "protocol":
		return nil, fmt.Errorf("%w: injected by testFault", dtserr.ErrProtocolViolation)
	case "integrity":
		return nil, fmt.Errorf("%w: injected by testFault", dtserr.ErrIntegrity)
	case "deliveryfailed", "delivery":
		return nil, fmt.Errorf("%w: injected by testFault", dtserr.ErrDeliveryFailed)
	case "diskfull":
		return nil, fmt.Errorf("%w: injected by testFault", dtserr.ErrDiskFull)
	case "invalidqueue":
		return nil, fmt.Errorf("%w: injected by testFault", dtserr.ErrInvalidQueue)
	default:
		return nil, fmt.Errorf("%w: testFault: unknown fault kind %q", dtserr.ErrProtocolViolation, args[0])
	}
}
