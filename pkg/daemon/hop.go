package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dts-project/dts/pkg/control"
	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/journal"
	"github.com/dts-project/dts/pkg/log"
	"github.com/dts-project/dts/pkg/metrics"
	"github.com/dts-project/dts/pkg/transport"
	"github.com/dts-project/dts/pkg/types"
	"github.com/dts-project/dts/pkg/xrpc"
)

// NewHopFunc returns a queue.HopFunc that drives one complete hop to q's
// Dest node: queueAccept, initTransfer, setQueueControl, xferPush/xferPull,
// then endTransfer. The coordinator (this side, the upstream of the hop)
// always holds the bytes and always initiates every RPC; q.Mode only
// selects which side of the stripe session listens: push has the source
// listen and the destination dial in, pull is the reverse.
func NewHopFunc(d *Daemon) func(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error {
	return func(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error {
		return runHop(ctx, d, q, slotPath, ctrl)
	}
}

func runHop(ctx context.Context, d *Daemon, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error {
	logger := log.WithComponent("daemon").With().Str("queue", q.Name).Str("xfer", ctrl.Filename).Logger()

	node, ok := d.cfg.Node(q.Dest)
	if !ok {
		return fmt.Errorf("%w: queue %s names unknown dest node %q", dtserr.ErrInvalidQueue, q.Name, q.Dest)
	}

	cl, err := xrpc.Dial(node.Addr(), d.cfg.Password)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", dtserr.ErrTransient, node.Addr(), err)
	}
	defer cl.Close()

	start := time.Now()

	if _, err := cl.Call("queueAccept", q.Name); err != nil {
		return err
	}

	hopTimer := metrics.NewTimer()
	slotArgs, err := cl.Call("initTransfer", q.Name, strconv.FormatInt(ctrl.FileSize, 10))
	if err != nil {
		return err
	}
	if len(slotArgs) != 1 {
		return fmt.Errorf("%w: initTransfer returned %d results, want 1", dtserr.ErrProtocolViolation, len(slotArgs))
	}
	remoteSlot := slotArgs[0]

	// Recompute checksums from the bytes at rest in this slot before they
	// go out over the wire, so the declared values downstream verifies
	// against always describe the object actually being sent, not
	// whatever was declared further upstream.
	sum32, crcVal, md5Hex, err := fileChecksums(filepath.Join(slotPath, ctrl.Filename))
	if err != nil {
		return fmt.Errorf("%w: checksum %s: %v", dtserr.ErrIntegrity, ctrl.Filename, err)
	}
	ctrl.Sum32, ctrl.CRC32, ctrl.MD5 = sum32, crcVal, md5Hex

	if _, err := cl.Call("setQueueControl", q.Name, remoteSlot, string(control.Emit(ctrl))); err != nil {
		return err
	}

	nStripes := q.NThreads
	if nStripes <= 0 {
		nStripes = 1
	}

	mode := transport.ModePush
	method := "xferPush"
	if q.Mode == types.ModePull {
		mode = transport.ModePull
		method = "xferPull"
	}

	localSlot, _ := strconv.ParseInt(filepath.Base(slotPath), 10, 64)
	xferCtx, done := d.beginXfer(ctx, q.Name, localSlot)
	defer done()

	errCh := make(chan error, 1)
	go func() {
		_, rerr := transport.Run(xferCtx, transport.Config{
			Mode:        mode,
			IsSource:    true,
			NStripes:    nStripes,
			BasePort:    q.Port,
			FileSize:    ctrl.FileSize,
			Checksum:    q.Checksum,
			UDTRateMbps: q.UDTRate,
			PeerHost:    node.Host,
			LocalHost:   d.self.Host,
			FilePath:    filepath.Join(slotPath, ctrl.Filename),
		})
		errCh <- rerr
	}()

	xferResult, err := cl.Call(method, q.Name, remoteSlot, d.self.Host,
		strconv.Itoa(q.Port), strconv.Itoa(nStripes), strconv.Itoa(q.UDTRate))
	if err != nil {
		<-errCh
		return err
	}
	if txErr := <-errCh; txErr != nil {
		return fmt.Errorf("%w: stripe transfer: %v", dtserr.ErrTransient, txErr)
	}
	if len(xferResult) != 1 || xferResult[0] != types.StatusOK.String() {
		return fmt.Errorf("%w: remote reported non-OK transfer status", dtserr.ErrIntegrity)
	}

	status := types.StatusOK.String()
	if _, err := cl.Call("endTransfer", q.Name, remoteSlot, status); err != nil {
		return err
	}
	hopTimer.ObserveDuration(metrics.HopDuration.WithLabelValues(q.Name))

	elapsed := time.Since(start)
	_ = d.journal.Record(q.Name, journal.Entry{
		XferID:  ctrl.Filename,
		TimeSec: int64(elapsed / time.Second),
		TimeUs:  int64((elapsed % time.Second) / time.Microsecond),
		Status:  types.StatusOK.String(),
		Bytes:   ctrl.FileSize,
	})
	logger.Info().Int64("bytes", ctrl.FileSize).Dur("elapsed", elapsed).Msg("hop complete")
	return nil
}
