package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/queue"
)

// handleStartQueue resumes a paused queue.
func (d *Daemon) handleStartQueue(ctx context.Context, args []string) ([]string, error) {
	m, err := d.managerArg(args)
	if err != nil {
		return nil, err
	}
	m.Start()
	return []string{"ok"}, nil
}

// handleStopQueue requests a graceful drain-and-stop of the named queue.
func (d *Daemon) handleStopQueue(ctx context.Context, args []string) ([]string, error) {
	m, err := d.managerArg(args)
	if err != nil {
		return nil, err
	}
	m.Shutdown()
	return []string{"ok"}, nil
}

// handlePauseQueue refuses new work on the named queue, letting any
// in-flight hop finish.
func (d *Daemon) handlePauseQueue(ctx context.Context, args []string) ([]string, error) {
	m, err := d.managerArg(args)
	if err != nil {
		return nil, err
	}
	m.Pause()
	return []string{"ok"}, nil
}

// handlePokeQueue discards the current slot without processing it.
func (d *Daemon) handlePokeQueue(ctx context.Context, args []string) ([]string, error) {
	m, err := d.managerArg(args)
	if err != nil {
		return nil, err
	}
	if err := m.Poke(); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

// handleFlushQueue discards the entire backlog.
func (d *Daemon) handleFlushQueue(ctx context.Context, args []string) ([]string, error) {
	m, err := d.managerArg(args)
	if err != nil {
		return nil, err
	}
	if err := m.Flush(); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

// handleListQueue returns one "name type state backlog" line per queue
// registered on this node.
func (d *Daemon) handleListQueue(ctx context.Context, args []string) ([]string, error) {
	var out []string
	for _, name := range d.cfg.QueueOrder {
		q, ok := d.cfg.Queue(name)
		if !ok || q.Node != d.cfg.Self {
			continue
		}
		m := d.queues.Get(name)
		if m == nil {
			continue
		}
		backlog, err := m.Backlog()
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s %s %s %d", q.Name, q.Type, m.State(), backlog))
	}
	return out, nil
}

// handlePrintQueueCfg returns the static configuration of one queue.
func (d *Daemon) handlePrintQueueCfg(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: printQueueCfg wants 1 arg, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	q, ok := d.cfg.Queue(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s", dtserr.ErrInvalidQueue, args[0])
	}
	fields := []string{
		"name=" + q.Name,
		"type=" + string(q.Type),
		"src=" + q.Src,
		"dest=" + q.Dest,
		"method=" + string(q.Method),
		"mode=" + string(q.Mode),
		"nthreads=" + strconv.Itoa(q.NThreads),
		"checksum=" + string(q.Checksum),
		"udt_rate=" + strconv.Itoa(q.UDTRate),
		"port=" + strconv.Itoa(q.Port),
		"delivery_dir=" + q.DeliveryDir,
		"delivery_cmd=" + q.DeliveryCmd,
		"delivery_policy=" + string(q.DeliveryPolicy),
		"auto_purge=" + strconv.FormatBool(q.AutoPurge),
	}
	return []string{strings.Join(fields, " ")}, nil
}

// handleQueueRelease clears a _lock left behind by a failed or abandoned
// hop without reprocessing the slot, so the manager can advance past it.
func (d *Daemon) handleQueueRelease(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: queueRelease wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	slot, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: queueRelease: bad slot %q", dtserr.ErrProtocolViolation, args[1])
	}
	if _, ok := d.cfg.Queue(args[0]); !ok {
		return nil, fmt.Errorf("%w: %s", dtserr.ErrInvalidQueue, args[0])
	}
	if err := d.store.MarkIngestComplete(args[0], slot); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

// handleQueueComplete reports whether a slot's hop has finished, without
// side effects: "pending" while its _lock is still present, "complete"
// once endTransfer (or queueRelease) has cleared it.
func (d *Daemon) handleQueueComplete(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: queueComplete wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	slot, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: queueComplete: bad slot %q", dtserr.ErrProtocolViolation, args[1])
	}
	if _, ok := d.cfg.Queue(args[0]); !ok {
		return nil, fmt.Errorf("%w: %s", dtserr.ErrInvalidQueue, args[0])
	}
	lockPath := filepath.Join(d.store.SlotDir(args[0], slot), "_lock")
	if _, err := os.Stat(lockPath); err == nil {
		return []string{"pending"}, nil
	}
	return []string{"complete"}, nil
}

func (d *Daemon) managerArg(args []string) (*queue.Manager, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: want 1 arg, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	m := d.queues.Get(args[0])
	if m == nil {
		return nil, fmt.Errorf("%w: %s", dtserr.ErrInvalidQueue, args[0])
	}
	return m, nil
}
