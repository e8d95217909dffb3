package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dts-project/dts/pkg/control"
	"github.com/dts-project/dts/pkg/delivery"
	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/transport"
	"github.com/dts-project/dts/pkg/types"
)

// handleQueueAccept is the first call of every hop: the source asks
// whether this node admits work for queueName at all, before it spends a
// spool slot or a stripe port window on it.
func (d *Daemon) handleQueueAccept(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: queueAccept wants 1 arg, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	q, ok := d.cfg.Queue(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s", dtserr.ErrInvalidQueue, args[0])
	}
	state := q.State
	if mgr := d.queues.Get(q.Name); mgr != nil {
		state = mgr.State()
	}
	if state == types.QueuePaused || state == types.QueueKilled {
		return nil, fmt.Errorf("%w: queue %s not accepting work (state %s)", dtserr.ErrAdmissionRejected, q.Name, state)
	}
	return []string{"ok"}, nil
}

// handleInitTransfer allocates a spool slot for the incoming object and
// returns its index.
func (d *Daemon) handleInitTransfer(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: initTransfer wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	queueName, sizeStr := args[0], args[1]
	if _, ok := d.cfg.Queue(queueName); !ok {
		return nil, fmt.Errorf("%w: %s", dtserr.ErrInvalidQueue, queueName)
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: initTransfer: bad size %q", dtserr.ErrProtocolViolation, sizeStr)
	}

	slot, _, err := d.store.Allocate(queueName, size)
	if err != nil {
		return nil, err
	}
	return []string{strconv.FormatInt(slot, 10)}, nil
}

// handleSetQueueControl writes the source's control record into the
// allocated slot, verbatim, so the slot's $D/$MD5/etc. macros resolve
// identically on both ends of the hop.
func (d *Daemon) handleSetQueueControl(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("%w: setQueueControl wants 3 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	queueName, slotStr, blob := args[0], args[1], args[2]
	slot, err := strconv.ParseInt(slotStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: setQueueControl: bad slot %q", dtserr.ErrProtocolViolation, slotStr)
	}
	ctrl, err := control.Parse(strings.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: setQueueControl: %v", dtserr.ErrProtocolViolation, err)
	}

	slotPath := d.store.SlotDir(queueName, slot)
	if err := control.WriteFile(filepath.Join(slotPath, "_control"), ctrl); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

// handleXferPush is the receiving half of a push hop: the source already
// holds its stripe listeners open and is blocked in its own transport.Run
// call, so this handler dials in and blocks until every stripe completes.
func (d *Daemon) handleXferPush(ctx context.Context, args []string) ([]string, error) {
	return d.receiveStripes(ctx, "xferPush", transport.ModePush, args)
}

// handleXferPull is the receiving half of a pull hop: here the destination
// is the stripe TCP server, and the source (still the side sending bytes)
// dials in while this call is in progress; the call returns once every
// stripe completes.
func (d *Daemon) handleXferPull(ctx context.Context, args []string) ([]string, error) {
	return d.receiveStripes(ctx, "xferPull", transport.ModePull, args)
}

func (d *Daemon) receiveStripes(ctx context.Context, method string, mode transport.Mode, args []string) ([]string, error) {
	if len(args) != 6 {
		return nil, fmt.Errorf("%w: %s wants 6 args, got %d", dtserr.ErrProtocolViolation, method, len(args))
	}
	queueName, slotStr, srcHost, basePortStr, nStripesStr, udtRateStr := args[0], args[1], args[2], args[3], args[4], args[5]

	slot, err := strconv.ParseInt(slotStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad slot %q", dtserr.ErrProtocolViolation, method, slotStr)
	}
	basePort, _ := strconv.Atoi(basePortStr)
	nStripes, _ := strconv.Atoi(nStripesStr)
	udtRate, _ := strconv.Atoi(udtRateStr)

	q, ok := d.cfg.Queue(queueName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", dtserr.ErrInvalidQueue, queueName)
	}

	slotPath := d.store.SlotDir(queueName, slot)
	ctrl, err := control.ReadFile(filepath.Join(slotPath, "_control"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: missing control for slot %d: %v", dtserr.ErrProtocolViolation, method, slot, err)
	}

	xferCtx, done := d.beginXfer(ctx, queueName, slot)
	defer done()

	res, err := transport.Run(xferCtx, transport.Config{
		Mode:        mode,
		IsSource:    false,
		NStripes:    nStripes,
		BasePort:    basePort,
		FileSize:    ctrl.FileSize,
		Checksum:    q.Checksum,
		UDTRateMbps: udtRate,
		PeerHost:    srcHost,
		LocalHost:   d.self.Host,
		FilePath:    filepath.Join(slotPath, ctrl.Filename),
	})
	if err != nil {
		return nil, err
	}
	return []string{res.Status.String()}, nil
}

// handleCancelTransfer aborts the in-flight stripe session for a slot on
// this node, leaving its destination _lock in place for diagnosis exactly
// as a protocol-violation failure would.
func (d *Daemon) handleCancelTransfer(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: cancelTransfer wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	slot, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: cancelTransfer: bad slot %q", dtserr.ErrProtocolViolation, args[1])
	}
	if !d.cancelXfer(args[0], slot) {
		return nil, fmt.Errorf("%w: no in-flight transfer for %s/%d", dtserr.ErrInvalidQueue, args[0], slot)
	}
	return []string{"ok"}, nil
}

// handleEndTransfer finalizes the slot: clears _lock so the local queue
// manager (or, for an endpoint queue, this handler itself) can act on it.
func (d *Daemon) handleEndTransfer(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("%w: endTransfer wants 3 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	queueName, slotStr, status := args[0], args[1], args[2]
	slot, err := strconv.ParseInt(slotStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: endTransfer: bad slot %q", dtserr.ErrProtocolViolation, slotStr)
	}
	if status != types.StatusOK.String() {
		return nil, fmt.Errorf("%w: endTransfer: upstream reported status %s", dtserr.ErrTransient, status)
	}

	q, ok := d.cfg.Queue(queueName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", dtserr.ErrInvalidQueue, queueName)
	}

	slotPath := d.store.SlotDir(queueName, slot)
	ctrl, err := control.ReadFile(filepath.Join(slotPath, "_control"))
	if err != nil {
		return nil, fmt.Errorf("%w: endTransfer: missing control for slot %d: %v", dtserr.ErrProtocolViolation, slot, err)
	}

	sum32, crcVal, md5Hex, err := fileChecksums(filepath.Join(slotPath, ctrl.Filename))
	if err != nil {
		return nil, fmt.Errorf("%w: endTransfer: checksum %s: %v", dtserr.ErrIntegrity, ctrl.Filename, err)
	}
	if sum32 != ctrl.Sum32 || crcVal != ctrl.CRC32 || md5Hex != ctrl.MD5 {
		// _lock stays in place: the slot is left for diagnosis, not
		// forwarded or delivered.
		return nil, fmt.Errorf("%w: endTransfer: checksum mismatch for %s (sum32 got %08x want %08x, crc32 got %08x want %08x, md5 got %s want %s)",
			dtserr.ErrIntegrity, ctrl.Filename, sum32, ctrl.Sum32, crcVal, ctrl.CRC32, md5Hex, ctrl.MD5)
	}

	if err := d.store.MarkIngestComplete(queueName, slot); err != nil {
		return nil, err
	}
	_ = d.store.AppendLog(queueName, true, "ok", ctrl.FileSize)

	// An endpoint queue has no downstream, so its manager idles forever;
	// this is the only place delivery runs for it.
	if q.Dest == "" {
		d.applyDelivery(ctx, q, slot, slotPath, ctrl)
	}
	return []string{"ok"}, nil
}

func (d *Daemon) applyDelivery(ctx context.Context, q *types.Queue, slot int64, slotPath string, ctrl *types.ControlRecord) {
	outcome, err := delivery.Deliver(ctx, q, slotPath, ctrl)
	if err != nil {
		d.logger.Error().Err(err).Str("queue", q.Name).Int64("slot", slot).Msg("delivery failed")
	}

	switch outcome {
	case delivery.OutcomeObjectFailed:
		_ = d.store.MarkErr(q.Name, slot)
		_ = d.store.AdvanceCurrent(q.Name, q.AutoPurge)
	case delivery.OutcomeQueuePause:
		if mgr := d.queues.Get(q.Name); mgr != nil {
			mgr.Pause()
		}
	default:
		_ = d.store.AdvanceCurrent(q.Name, q.AutoPurge)
	}
}
